// Package handlers defines the fake backend's HTTP handlers.
// This file holds the shared Handlers value and the refresh cookie settings.
package handlers

import (
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

// RefreshCookie is the name of the HttpOnly refresh credential cookie.
const RefreshCookie = "refresh_token"

// Handlers groups the REST endpoints.
type Handlers struct {
	store *store.Store

	// cookiePath scopes the refresh cookie, e.g. "/api/v1/auth".
	cookiePath string
	// secure marks the refresh cookie Secure.
	secure bool
}

// New binds the handlers to a store. cookiePath scopes the refresh cookie.
func New(s *store.Store, cookiePath string, secure bool) *Handlers {
	if cookiePath == "" {
		cookiePath = "/"
	}
	return &Handlers{store: s, cookiePath: cookiePath, secure: secure}
}
