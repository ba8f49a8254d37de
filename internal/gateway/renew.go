// Package gateway – token renewal
//
// This file implements single-flight renewal. Concurrent callers that saw
// the same session generation share one refresh call. A caller whose
// generation is already stale reuses the newer token instead of renewing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

const renewKey = "renew"

// Renew obtains a fresh access token, joining a renewal that is already in
// flight. On success the token is stored in the session; on failure the
// session is cleared and the returned error wraps domain.ErrAuthRejected.
func (g *Gateway) Renew(ctx context.Context) (string, error) {
	return g.renew(ctx, g.session.Generation())
}

// renew runs at most one renewal at a time. The renewal outlives a cancelled
// first caller; each waiter still gives up when its own ctx is done.
func (g *Gateway) renew(ctx context.Context, gen uint64) (string, error) {
	ch := g.flight.DoChan(renewKey, func() (any, error) {
		// Another caller finished a renewal after this one's attempt was sent.
		if tok, cur := g.session.Snapshot(); cur != gen {
			if tok != "" {
				return tok, nil
			}
			return "", domain.ErrAuthRejected
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.renewTimeout)
		defer cancel()

		tok, err := g.refresh(rctx)
		if err != nil {
			renewalsTotal.WithLabelValues("failure").Inc()
			if cerr := g.session.Clear(rctx); cerr != nil {
				g.logger.Warn().Err(cerr).Msg("renewal: clearing stored token failed")
			}
			g.logger.Debug().Err(err).Msg("token renewal failed")
			return "", err
		}
		renewalsTotal.WithLabelValues("success").Inc()
		if serr := g.session.SetToken(rctx, tok); serr != nil {
			g.logger.Warn().Err(serr).Msg("renewal: persisting token failed")
		}
		g.logger.Debug().Msg("token renewed")
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh calls the renewal endpoint. The refresh cookie is attached by the
// HTTP client's jar.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	req := &Request{Method: http.MethodPost, Path: PathRefresh}
	var out domain.TokenResponse
	status, raw, reqID, err := g.attempt(ctx, req, nil, g.session.Token())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: renewal timed out", domain.ErrAuthRejected)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrAuthRejected, err)
	}
	if err := g.finish(req, status, raw, reqID, &out); err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", domain.ErrAuthRejected, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: renewal returned no token", domain.ErrAuthRejected)
	}
	return out.AccessToken, nil
}
