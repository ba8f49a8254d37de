// Package handlers – items endpoints
//
// This file lists and creates items and ranks similar items of the opposite
// type with the search index. Only the owner of an item may ask for matches.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/middleware"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
	"github.com/tbourn/go-lostfound-client/internal/search"
)

const (
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

type similarResponse struct {
	Matches []domain.SimilarMatch `json:"matches"`
}

// ListItems handles GET /items -> Item[].
func (h *Handlers) ListItems(c *gin.Context) {
	rows, err := h.store.ListItems(c.Request.Context())
	if err != nil {
		storeFail(c, err)
		return
	}
	out := make([]domain.Item, len(rows))
	for i, it := range rows {
		out[i] = it.Domain()
	}
	ok(c, http.StatusOK, out)
}

// CreateItem handles POST /items -> 201 Item owned by the caller.
func (h *Handlers) CreateItem(c *gin.Context) {
	var in domain.NewItem
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, _ := middleware.CurrentUser(c)
	it, err := h.store.CreateItem(c.Request.Context(), u.ID, in)
	if err != nil {
		storeFail(c, err)
		return
	}
	ok(c, http.StatusCreated, it.Domain())
}

// SimilarItems handles GET /items/{id}/similar?limit=5 -> {matches:[{item,score}]}.
//
// Only the owner of an item may look up its matches (403 otherwise). Lost
// items are matched against found ones and vice versa. No overlap yields an
// empty list, not an error.
func (h *Handlers) SimilarItems(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	target, err := h.store.Item(ctx, id)
	if err != nil {
		storeFail(c, err)
		return
	}
	if target.OwnerID != u.ID {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the owner can search matches")
		return
	}
	rows, err := h.store.ListItems(ctx)
	if err != nil {
		storeFail(c, err)
		return
	}

	byID := make(map[int64]store.Item, len(rows))
	docs := []search.Doc{{ID: target.ID, Text: itemText(target)}}
	for _, it := range rows {
		if it.ID == target.ID || it.Type == target.Type {
			continue
		}
		byID[it.ID] = it
		docs = append(docs, search.Doc{ID: it.ID, Text: itemText(it)})
	}

	results := search.New(docs).Similar(target.ID, queryLimit(c, defaultSimilarLimit, maxSimilarLimit))
	out := similarResponse{Matches: make([]domain.SimilarMatch, 0, len(results))}
	for _, r := range results {
		out.Matches = append(out.Matches, domain.SimilarMatch{Item: byID[r.ID].Domain(), Score: r.Score})
	}
	ok(c, http.StatusOK, out)
}

func itemText(it store.Item) string {
	return strings.Join([]string{it.Title, it.Category, it.Description, it.RoomLabel}, " ")
}
