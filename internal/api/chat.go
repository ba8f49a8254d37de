// Package api – ChatAPI
//
// This file covers the conversation endpoints: listing, get-or-create by
// (item, peer), the close request and REST message history.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
)

// ChatAPI covers the /chat endpoints.
type ChatAPI struct {
	Doer Doer
}

type ensureThreadBody struct {
	ItemID int64 `json:"item_id"`
	PeerID int64 `json:"peer_id"`
}

// ListThreads returns the caller's conversations.
func (a ChatAPI) ListThreads(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: "/chat/threads"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureThread gets or creates the thread for (item, caller, peer).
func (a ChatAPI) EnsureThread(ctx context.Context, itemID, peerID int64) (domain.Conversation, error) {
	var out domain.Conversation
	err := a.Doer.Do(ctx, &gateway.Request{
		Method: http.MethodPost,
		Path:   "/chat/thread",
		Body:   ensureThreadBody{ItemID: itemID, PeerID: peerID},
	}, &out)
	return out, err
}

// CloseThread records the caller's close request.
func (a ChatAPI) CloseThread(ctx context.Context, threadID int64) error {
	return a.Doer.Do(ctx, &gateway.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/chat/threads/%d/close", threadID),
		Route:  "/chat/threads/{id}/close",
	}, nil)
}

// Messages returns up to limit of the latest messages of a thread, oldest first.
func (a ChatAPI) Messages(ctx context.Context, threadID int64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	req := &gateway.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/chat/threads/%d/messages", threadID),
		Route:  "/chat/threads/{id}/messages",
	}
	if limit > 0 {
		req.Query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	if err := a.Doer.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
