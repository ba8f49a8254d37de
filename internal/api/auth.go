// Package api – AuthAPI
//
// This file holds the account endpoints: login, registration, logout and the
// identity lookup. Login and registration are sent on auth paths, so the
// gateway never tries to renew a token for them.
package api

import (
	"context"
	"net/http"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
)

// AuthAPI covers the /auth endpoints except renewal, which the gateway owns.
type AuthAPI struct {
	Doer Doer
}

// Login exchanges credentials for an access token. The refresh cookie is
// captured by the transport.
func (a AuthAPI) Login(ctx context.Context, c domain.Credentials) (domain.TokenResponse, error) {
	var out domain.TokenResponse
	err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodPost, Path: gateway.PathLogin, Body: c}, &out)
	return out, err
}

// Register creates an account and returns the created identity.
func (a AuthAPI) Register(ctx context.Context, r domain.Registration) (domain.Identity, error) {
	var out domain.Identity
	err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodPost, Path: gateway.PathRegister, Body: r}, &out)
	return out, err
}

// Logout revokes the refresh credential server-side.
func (a AuthAPI) Logout(ctx context.Context) error {
	return a.Doer.Do(ctx, &gateway.Request{Method: http.MethodPost, Path: "/auth/logout"}, nil)
}

// Me returns the authenticated caller.
func (a AuthAPI) Me(ctx context.Context) (domain.Identity, error) {
	var out domain.Identity
	err := a.Doer.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: "/auth/me"}, &out)
	return out, err
}
