// Package domain defines the data shared by the lost & found client: the
// conversation and message shapes exchanged with the backend, the caller's
// identity, items, and the locally persisted credential rows. JSON tags
// follow the wire format of the REST and realtime surfaces.
package domain

import (
	"strings"
	"time"
)

// Conversation is a two-party thread scoped to one item.
//
// Fields:
//   - ID: server-assigned thread identifier.
//   - ItemID / PeerID: the item under discussion and the other participant.
//   - ItemTitle / ItemStatus / ItemImageURL: display data of the item.
//   - LastMessageText / LastMessageAt: preview of the latest message, if any.
//   - CloseRequestedBySelf / CloseRequestedByPeer: the two halves of the
//     close handshake as reported by the server, seen from the caller.
type Conversation struct {
	ID                   int64      `json:"id"`
	ItemID               int64      `json:"item_id"`
	PeerID               int64      `json:"peer_id"`
	ItemTitle            string     `json:"item_title,omitempty"`
	ItemStatus           string     `json:"item_status,omitempty"`
	ItemImageURL         string     `json:"item_image_url,omitempty"`
	LastMessageText      string     `json:"last_message_text,omitempty"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
	CloseRequestedBySelf bool       `json:"close_requested_by_me"`
	CloseRequestedByPeer bool       `json:"close_requested_by_peer"`
}

// CloseState is the interpretation of a conversation's two close flags.
type CloseState string

const (
	CloseOpen          CloseState = "open"
	ClosePeerRequested CloseState = "peer_requested"
	CloseWaitingOnPeer CloseState = "waiting_for_peer"
	CloseClosed        CloseState = "closed"
)

// FullyClosed reports whether both participants asked to close.
func (c Conversation) FullyClosed() bool {
	return c.CloseRequestedBySelf && c.CloseRequestedByPeer
}

// CloseState derives the handshake state from the server flags.
func (c Conversation) CloseState() CloseState {
	switch {
	case c.FullyClosed():
		return CloseClosed
	case c.CloseRequestedBySelf:
		return CloseWaitingOnPeer
	case c.CloseRequestedByPeer:
		return ClosePeerRequested
	default:
		return CloseOpen
	}
}

// Message is one chat line. ID is zero until the server has persisted it.
// ClientKey is the idempotency key generated by the sender; within one
// message log no two entries share a non-empty key.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	ThreadID  int64     `json:"thread_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	ClientKey string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated caller as returned by GET /auth/me.
type Identity struct {
	ID      int64  `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Surname string `json:"surname,omitempty"`
}

// DisplayName returns "Name Surname", falling back to the email.
func (i Identity) DisplayName() string {
	n := strings.TrimSpace(i.Name + " " + i.Surname)
	if n == "" {
		return i.Email
	}
	return n
}

// Item types.
const (
	ItemLost  = "lost"
	ItemFound = "found"
)

// Item statuses.
const (
	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusClosed     = "CLOSED"
)

// Item is a lost or found object posted on the campus map.
type Item struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id,omitempty"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Category    string    `json:"category,omitempty"`
	RoomID      string    `json:"room_id,omitempty"`
	RoomLabel   string    `json:"room_label,omitempty"`
	FloorLabel  string    `json:"floor_label,omitempty"`
	TimeAgo     string    `json:"time_ago,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewItem is the payload of POST /items.
type NewItem struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	RoomLabel   string `json:"room_label,omitempty"`
	FloorLabel  string `json:"floor_label,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// SimilarMatch is one ranked result of the similar-item search.
type SimilarMatch struct {
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up payload.
type Registration struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}
