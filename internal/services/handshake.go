// Package services – CloseHandshake
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// CloseHandshake runs the two-party close protocol for conversations.
//
// Closing takes two steps on the caller's side: Begin shows the request and
// Confirm sends it. After that the thread waits for the peer; once the server
// reports both flags the thread is closed for good. The controller also
// answers whether a thread may still carry messages (CanSend).
type CloseHandshake struct {
	Dir *Directory

	mu        sync.Mutex
	pending   map[int64]bool
	requested map[int64]bool // own close call succeeded
	closed    map[int64]bool // both flags seen; never reopens
}

// NewCloseHandshake constructs a controller over dir.
func NewCloseHandshake(dir *Directory) *CloseHandshake {
	return &CloseHandshake{
		Dir:       dir,
		pending:   make(map[int64]bool),
		requested: make(map[int64]bool),
		closed:    make(map[int64]bool),
	}
}

// Begin is the first step: the close request is shown and awaits Confirm.
func (h *CloseHandshake) Begin(threadID int64) error {
	switch h.State(threadID) {
	case domain.CloseWaitingOnPeer, domain.CloseClosed:
		return ErrAlreadyClosing
	}
	h.mu.Lock()
	h.pending[threadID] = true
	h.mu.Unlock()
	return nil
}

// Cancel withdraws a request that was begun but not confirmed.
func (h *CloseHandshake) Cancel(threadID int64) {
	h.mu.Lock()
	delete(h.pending, threadID)
	h.mu.Unlock()
}

// Pending reports whether Begin was called and not yet confirmed or cancelled.
func (h *CloseHandshake) Pending(threadID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending[threadID]
}

// Confirm is the second step: it sends the close request through the
// directory, which refreshes its snapshot afterwards regardless of the
// outcome. It returns the resulting state.
func (h *CloseHandshake) Confirm(ctx context.Context, threadID int64) (domain.CloseState, error) {
	h.mu.Lock()
	if !h.pending[threadID] {
		h.mu.Unlock()
		return h.State(threadID), ErrNoPendingClose
	}
	delete(h.pending, threadID)
	h.mu.Unlock()

	err := h.Dir.RequestClose(ctx, threadID)
	if err == nil || errors.Is(err, ErrDirectoryStale) {
		h.mu.Lock()
		h.requested[threadID] = true
		h.mu.Unlock()
	}
	st := h.State(threadID)
	log.Debug().Int64("thread_id", threadID).Str("state", string(st)).Err(err).Msg("close confirmed")
	return st, err
}

// State interprets the directory's flags for threadID. Both flags seen once
// means closed from then on; a successful own request counts as "waiting for
// peer" until the server reports both flags.
func (h *CloseHandshake) State(threadID int64) domain.CloseState {
	th, ok := h.Dir.Thread(threadID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[threadID] {
		return domain.CloseClosed
	}
	st := domain.CloseOpen
	if ok {
		st = th.CloseState()
	}
	switch {
	case st == domain.CloseClosed:
		h.closed[threadID] = true
	case h.requested[threadID] && (st == domain.CloseOpen || st == domain.ClosePeerRequested):
		st = domain.CloseWaitingOnPeer
	}
	return st
}

// CanSend returns nil while threadID may carry messages, or a
// *domain.SendBlockedError naming why not.
func (h *CloseHandshake) CanSend(threadID int64) error {
	switch h.State(threadID) {
	case domain.CloseClosed:
		return &domain.SendBlockedError{ThreadID: threadID, Reason: domain.ReasonClosed}
	case domain.CloseWaitingOnPeer:
		return &domain.SendBlockedError{ThreadID: threadID, Reason: domain.ReasonCloseRequested}
	}
	return nil
}
