// Package store is the persistence layer of the fake backend: users, bearer
// and refresh tokens, items, threads and messages in SQLite via GORM.
//
// It implements the server-side rules the client relies on: one thread per
// (item, participant pair), message idempotency per (thread, sender, key),
// close arbitration through two per-participant flags, and token expiry.
package store

import "time"

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// User is an account.
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"size:320;uniqueIndex;not null"`
	Name         string `gorm:"size:120"`
	Surname      string `gorm:"size:120"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// Token is an opaque bearer or refresh credential.
type Token struct {
	Value     string    `gorm:"primaryKey;size:64"`
	UserID    int64     `gorm:"index;not null"`
	Kind      string    `gorm:"size:16;index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// Item is a posted lost or found object.
type Item struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OwnerID     int64  `gorm:"index;not null"`
	Title       string `gorm:"size:200;not null"`
	Type        string `gorm:"size:16;not null"`
	Status      string `gorm:"size:16;not null"`
	Category    string `gorm:"size:64"`
	RoomID      string `gorm:"size:64"`
	RoomLabel   string `gorm:"size:120"`
	FloorLabel  string `gorm:"size:64"`
	Description string
	ImageURL    string
	CreatedAt   time.Time
}

// Thread is a conversation about one item between two users. UserA is always
// the lower id so the pair has a single representation.
type Thread struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	ItemID    int64      `gorm:"not null;uniqueIndex:idx_thread_pair,priority:1"`
	UserA     int64      `gorm:"not null;uniqueIndex:idx_thread_pair,priority:2"`
	UserB     int64      `gorm:"not null;uniqueIndex:idx_thread_pair,priority:3"`
	CloseA    bool       `gorm:"not null;default:false"`
	CloseB    bool       `gorm:"not null;default:false"`
	LastText  string     `gorm:"size:500"`
	LastAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Has reports whether userID participates in the thread.
func (t Thread) Has(userID int64) bool { return t.UserA == userID || t.UserB == userID }

// Peer returns the other participant.
func (t Thread) Peer(userID int64) int64 {
	if t.UserA == userID {
		return t.UserB
	}
	return t.UserA
}

// Flags returns the close flags as seen by userID.
func (t Thread) Flags(userID int64) (self, peer bool) {
	if t.UserA == userID {
		return t.CloseA, t.CloseB
	}
	return t.CloseB, t.CloseA
}

// Closed reports whether both participants asked to close.
func (t Thread) Closed() bool { return t.CloseA && t.CloseB }

// Message is a persisted chat line. ClientKey is unique per thread and sender.
type Message struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ThreadID  int64  `gorm:"not null;index;uniqueIndex:idx_msg_key,priority:1"`
	SenderID  int64  `gorm:"not null;uniqueIndex:idx_msg_key,priority:2"`
	ClientKey string `gorm:"size:64;not null;uniqueIndex:idx_msg_key,priority:3"`
	Text      string `gorm:"not null"`
	CreatedAt time.Time
}
