// Package handlers – chat endpoints
//
// This file lists threads, gets or creates a thread per (item, pair),
// records close requests and serves message history. Threads are rendered
// from the caller's point of view.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/middleware"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type ensureThreadRequest struct {
	ItemID int64 `json:"item_id"`
	PeerID int64 `json:"peer_id"`
}

// ListThreads handles GET /chat/threads -> Conversation[] seen by the caller.
func (h *Handlers) ListThreads(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	rows, err := h.store.ThreadsFor(ctx, u.ID)
	if err != nil {
		storeFail(c, err)
		return
	}
	out := make([]domain.Conversation, 0, len(rows))
	for _, th := range rows {
		conv, err := h.store.Conversation(ctx, th, u.ID)
		if err != nil {
			storeFail(c, err)
			return
		}
		out = append(out, conv)
	}
	ok(c, http.StatusOK, out)
}

// EnsureThread handles POST /chat/thread {item_id, peer_id} -> Conversation.
// Repeated calls for the same item and pair return the same thread.
func (h *Handlers) EnsureThread(c *gin.Context) {
	var in ensureThreadRequest
	if err := c.ShouldBindJSON(&in); err != nil || in.ItemID <= 0 || in.PeerID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item_id and peer_id are required")
		return
	}
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	if _, err := h.store.User(ctx, in.PeerID); err != nil {
		storeFail(c, err)
		return
	}
	th, err := h.store.EnsureThread(ctx, in.ItemID, u.ID, in.PeerID)
	if err != nil {
		storeFail(c, err)
		return
	}
	h.renderThread(c, th, u)
}

// CloseThread handles POST /chat/threads/{id}/close -> 204.
func (h *Handlers) CloseThread(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	u, _ := middleware.CurrentUser(c)
	if _, err := h.store.RequestClose(c.Request.Context(), id, u.ID); err != nil {
		storeFail(c, err)
		return
	}
	noContent(c)
}

// ListMessages handles GET /chat/threads/{id}/messages?limit=50 -> Message[],
// the latest messages oldest first.
func (h *Handlers) ListMessages(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	if _, err := h.store.Thread(ctx, id, u.ID); err != nil {
		storeFail(c, err)
		return
	}
	rows, err := h.store.Messages(ctx, id, queryLimit(c, defaultMessageLimit, maxMessageLimit))
	if err != nil {
		storeFail(c, err)
		return
	}
	ok(c, http.StatusOK, store.Messages(rows))
}

func (h *Handlers) renderThread(c *gin.Context, th store.Thread, u store.User) {
	conv, err := h.store.Conversation(c.Request.Context(), th, u.ID)
	if err != nil {
		storeFail(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
