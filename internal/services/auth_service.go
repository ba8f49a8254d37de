// Package services – AuthService
//
// This file implements login, registration, logout and the cached identity
// of the caller. A rejected login leaves no token behind, and logout clears
// local state even when the server call fails.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/session"
)

// AuthClient is the REST contract AuthService needs. api.AuthAPI implements it.
type AuthClient interface {
	Login(ctx context.Context, c domain.Credentials) (domain.TokenResponse, error)
	Register(ctx context.Context, r domain.Registration) (domain.Identity, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (domain.Identity, error)
}

// CookieClearer drops transport cookies on logout. Optional.
type CookieClearer interface {
	Clear(ctx context.Context) error
}

// AuthService drives login, registration, logout and identity lookup, and
// keeps the session in step with their outcomes.
type AuthService struct {
	API     AuthClient
	Session *session.Session
	Cookies CookieClearer
}

// NewAuthService constructs an AuthService.
func NewAuthService(api AuthClient, sess *session.Session) *AuthService {
	return &AuthService{API: api, Session: sess}
}

// Login authenticates with email and password. On success the token is
// stored and the caller's identity is cached. On rejection no token is
// stored and the error matches domain.ErrAuthRejected.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.Identity{}, ErrInvalidInput
	}
	tok, err := s.API.Login(ctx, domain.Credentials{Email: email, Password: password})
	if err != nil {
		return domain.Identity{}, err
	}
	if tok.AccessToken == "" {
		return domain.Identity{}, fmt.Errorf("%w: login returned no token", domain.ErrAuthRejected)
	}
	if err := s.Session.SetToken(ctx, tok.AccessToken); err != nil {
		log.Warn().Err(err).Msg("login: persisting token failed")
	}
	id, err := s.Me(ctx)
	if err != nil {
		// A login that cannot name its user leaves nothing behind.
		if cerr := s.Session.Clear(ctx); cerr != nil {
			log.Warn().Err(cerr).Msg("login: clearing token failed")
		}
		if s.Cookies != nil {
			if cerr := s.Cookies.Clear(ctx); cerr != nil {
				log.Warn().Err(cerr).Msg("login: clearing cookies failed")
			}
		}
		return domain.Identity{}, fmt.Errorf("login: resolve identity: %w", err)
	}
	return id, nil
}

// Register creates an account and then logs in with the same credentials,
// so a successful registration leaves the session authenticated.
func (s *AuthService) Register(ctx context.Context, r domain.Registration) (domain.Identity, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Register")
	defer span.End()

	r.Email = normalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Surname = strings.TrimSpace(r.Surname)
	if r.Email == "" || r.Password == "" {
		return domain.Identity{}, ErrInvalidInput
	}
	if _, err := s.API.Register(ctx, r); err != nil {
		return domain.Identity{}, err
	}
	return s.Login(ctx, r.Email, r.Password)
}

// Logout revokes the refresh credential and clears the session. The local
// session is cleared even when the server call fails; that failure is
// returned.
func (s *AuthService) Logout(ctx context.Context) error {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Logout")
	defer span.End()

	apiErr := s.API.Logout(ctx)
	if err := s.Session.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("logout: clearing stored token failed")
	}
	if s.Cookies != nil {
		if err := s.Cookies.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("logout: clearing cookies failed")
		}
	}
	return apiErr
}

// Me returns the caller's identity, resolving it once per token.
func (s *AuthService) Me(ctx context.Context) (domain.Identity, error) {
	if id, ok := s.Session.Identity(); ok {
		return id, nil
	}
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Me")
	defer span.End()

	id, err := s.API.Me(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	s.Session.SetIdentity(id)
	return id, nil
}

// SelfID returns the caller's user id, or ErrNoIdentity.
func (s *AuthService) SelfID(ctx context.Context) (int64, error) {
	id, err := s.Me(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoIdentity, err)
	}
	return id.ID, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
