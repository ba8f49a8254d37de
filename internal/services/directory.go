// Package services – Directory
//
// This file keeps the snapshot of the caller's conversations. Close flags
// come only from the server, so every close request is followed by a
// refresh.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// ChatClient is the REST contract the Directory needs. api.ChatAPI implements it.
type ChatClient interface {
	ListThreads(ctx context.Context) ([]domain.Conversation, error)
	EnsureThread(ctx context.Context, itemID, peerID int64) (domain.Conversation, error)
	CloseThread(ctx context.Context, threadID int64) error
	Messages(ctx context.Context, threadID int64, limit int) ([]domain.Message, error)
}

// IdentitySource resolves the caller's user id. AuthService implements it.
type IdentitySource interface {
	SelfID(ctx context.Context) (int64, error)
}

// Directory lists the caller's conversations and keeps the last snapshot
// the server returned. Close flags are only ever taken from the server;
// nothing in the snapshot is changed locally.
type Directory struct {
	API      ChatClient
	Identity IdentitySource

	// HistoryLimit is the default page size of Messages.
	HistoryLimit int

	mu      sync.RWMutex
	threads []domain.Conversation
}

// NewDirectory constructs a Directory with the default history page size.
func NewDirectory(api ChatClient, ident IdentitySource) *Directory {
	return &Directory{API: api, Identity: ident, HistoryLimit: 50}
}

// ListThreads fetches the caller's conversations and replaces the snapshot.
func (d *Directory) ListThreads(ctx context.Context) ([]domain.Conversation, error) {
	ctx, span := otel.Tracer("services/Directory").Start(ctx, "ListThreads")
	defer span.End()

	ths, err := d.API.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.threads = append([]domain.Conversation(nil), ths...)
	d.mu.Unlock()
	span.SetAttributes(attribute.Int("threads.count", len(ths)))
	return d.Threads(), nil
}

// Threads returns a copy of the last snapshot.
func (d *Directory) Threads() []domain.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.Conversation(nil), d.threads...)
}

// Thread looks up a conversation in the snapshot.
func (d *Directory) Thread(id int64) (domain.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.threads {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Conversation{}, false
}

// EnsureThread returns the conversation for (item, caller, peer), creating
// it server-side on first use. Calling it again for the same pair returns
// the same conversation. peerID must not be the caller.
func (d *Directory) EnsureThread(ctx context.Context, itemID, peerID int64) (domain.Conversation, error) {
	ctx, span := otel.Tracer("services/Directory").Start(ctx, "EnsureThread",
		trace.WithAttributes(
			attribute.Int64("item.id", itemID),
			attribute.Int64("peer.id", peerID),
		),
	)
	defer span.End()

	self, err := d.Identity.SelfID(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}
	if peerID == self {
		return domain.Conversation{}, ErrSelfConversation
	}
	th, err := d.API.EnsureThread(ctx, itemID, peerID)
	if err != nil {
		return domain.Conversation{}, err
	}
	d.upsert(th)
	return th, nil
}

// RequestClose records the caller's request to close threadID and then
// refreshes the snapshot, whether or not the request succeeded. A failed
// request is returned as is; a failed refresh after a successful request is
// reported as ErrDirectoryStale.
func (d *Directory) RequestClose(ctx context.Context, threadID int64) error {
	ctx, span := otel.Tracer("services/Directory").Start(ctx, "RequestClose",
		trace.WithAttributes(attribute.Int64("thread.id", threadID)),
	)
	defer span.End()

	closeErr := d.API.CloseThread(ctx, threadID)
	_, refreshErr := d.ListThreads(ctx)

	if closeErr != nil {
		if refreshErr != nil {
			log.Debug().Err(refreshErr).Int64("thread_id", threadID).Msg("refresh after failed close also failed")
		}
		return fmt.Errorf("request close: %w", closeErr)
	}
	if refreshErr != nil {
		return fmt.Errorf("%w: %w", ErrDirectoryStale, refreshErr)
	}
	return nil
}

// Messages returns the latest messages of a thread; limit <= 0 uses HistoryLimit.
func (d *Directory) Messages(ctx context.Context, threadID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = d.HistoryLimit
	}
	return d.API.Messages(ctx, threadID, limit)
}

func (d *Directory) upsert(th domain.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.threads {
		if d.threads[i].ID == th.ID {
			d.threads[i] = th
			return
		}
	}
	d.threads = append([]domain.Conversation{th}, d.threads...)
}
