// Package api – ItemsAPI
//
// This file covers listing and posting items and the similar-items lookup.
// It also resolves relative media paths against the API origin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
)

// ItemsAPI covers the /items endpoints and the similar-item search.
type ItemsAPI struct {
	Doer Doer
}

// List returns every posted item.
func (a ItemsAPI) List(ctx context.Context) ([]domain.Item, error) {
	var out []domain.Item
	if err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: "/items"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts a new item owned by the caller.
func (a ItemsAPI) Create(ctx context.Context, in domain.NewItem) (domain.Item, error) {
	var out domain.Item
	err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodPost, Path: "/items", Body: in}, &out)
	return out, err
}

type similarResponse struct {
	Matches []domain.SimilarMatch `json:"matches"`
}

// Similar returns items ranked by similarity to itemID, best first.
//
// "No match" and "not allowed" are distinct outcomes: an empty result is
// (nil, nil), while an authorization failure is returned as an error that
// matches domain.ErrAuthRejected or domain.ErrAuthExpired.
func (a ItemsAPI) Similar(ctx context.Context, itemID int64, limit int) ([]domain.SimilarMatch, error) {
	req := &gateway.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/items/%d/similar", itemID),
		Route:  "/items/{id}/similar",
	}
	if limit > 0 {
		req.Query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out similarResponse
	if err := a.Doer.Do(ctx, req, &out); err != nil {
		if gateway.StatusOf(err) == http.StatusForbidden && !errors.Is(err, domain.ErrAuthRejected) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAuthRejected, err)
		}
		return nil, err
	}
	if len(out.Matches) == 0 {
		return nil, nil
	}
	return out.Matches, nil
}

// StrongMatches keeps the matches scoring at least threshold.
func StrongMatches(ms []domain.SimilarMatch, threshold float64) []domain.SimilarMatch {
	var out []domain.SimilarMatch
	for _, m := range ms {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	return out
}

// ResolveMediaURL turns a media path returned by the API into an absolute
// URL. Absolute and data URLs are returned unchanged; relative paths are
// prefixed with origin.
func ResolveMediaURL(origin, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	low := strings.ToLower(raw)
	if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") ||
		strings.HasPrefix(low, "data:") || strings.HasPrefix(low, "blob:") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		if u, err := url.Parse(origin); err == nil && u.Scheme != "" {
			return u.Scheme + ":" + raw
		}
		return "https:" + raw
	}
	origin = strings.TrimRight(origin, "/")
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return origin + raw
}
