// Package session – Resolver
//
// This file restores a session silently at startup with a single renewal.
package session

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Renewer obtains a fresh access token using the refresh credential held by
// the transport. Implementations store the token on success and clear the
// session on failure.
type Renewer interface {
	Renew(ctx context.Context) (string, error)
}

// Resolver restores a session at startup.
type Resolver struct {
	Session *Session
	Renewer Renewer
	Logger  *zerolog.Logger
}

// Restore calls the renewal once. On success the session ends up
// authenticated; on failure it ends up anonymous with any stored token
// removed. Failures are logged, never returned.
func (r *Resolver) Restore(ctx context.Context) bool {
	logger := r.Logger
	if logger == nil {
		logger = &log.Logger
	}

	tok, err := r.Renewer.Renew(ctx)
	if err != nil {
		// The renewer already cleared the token; make sure the status is settled.
		if r.Session.Status() != StatusAnonymous {
			if cerr := r.Session.Clear(ctx); cerr != nil {
				logger.Warn().Err(cerr).Msg("session restore: clearing stored token failed")
			}
		}
		logger.Debug().Err(err).Msg("session restore: no active session")
		return false
	}
	if !r.Session.Authenticated() || r.Session.Token() != tok {
		if err := r.Session.SetToken(ctx, tok); err != nil {
			logger.Warn().Err(err).Msg("session restore: persisting token failed")
		}
	}
	logger.Debug().Msg("session restored")
	return true
}
