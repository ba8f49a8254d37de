package store

import (
	"context"
	"errors"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// Identity converts a user to its wire shape.
func (u User) Identity() domain.Identity {
	return domain.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Surname: u.Surname}
}

// Domain converts an item to its wire shape.
func (it Item) Domain() domain.Item {
	return domain.Item{
		ID:          it.ID,
		OwnerID:     it.OwnerID,
		Title:       it.Title,
		Type:        it.Type,
		Status:      it.Status,
		Category:    it.Category,
		RoomID:      it.RoomID,
		RoomLabel:   it.RoomLabel,
		FloorLabel:  it.FloorLabel,
		Description: it.Description,
		ImageURL:    it.ImageURL,
		CreatedAt:   it.CreatedAt,
	}
}

// Domain converts a message to its wire shape.
func (m Message) Domain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		ClientKey: m.ClientKey,
		CreatedAt: m.CreatedAt,
	}
}

// Conversation renders th as seen by viewer, including item display data.
func (s *Store) Conversation(ctx context.Context, th Thread, viewer int64) (domain.Conversation, error) {
	self, peer := th.Flags(viewer)
	c := domain.Conversation{
		ID:                   th.ID,
		ItemID:               th.ItemID,
		PeerID:               th.Peer(viewer),
		LastMessageText:      th.LastText,
		LastMessageAt:        th.LastAt,
		CloseRequestedBySelf: self,
		CloseRequestedByPeer: peer,
	}
	it, err := s.Item(ctx, th.ItemID)
	switch {
	case err == nil:
		c.ItemTitle = it.Title
		c.ItemStatus = it.Status
		c.ItemImageURL = it.ImageURL
	case !errors.Is(err, ErrNotFound):
		return domain.Conversation{}, err
	}
	return c, nil
}

// Messages converts a slice of rows.
func Messages(rows []Message) []domain.Message {
	out := make([]domain.Message, len(rows))
	for i, r := range rows {
		out[i] = r.Domain()
	}
	return out
}
