// Package gateway is the single path every REST call of the client takes.
//
// The Gateway attaches the session's bearer token, and when a call comes back
// 401 it obtains a new token through a single-flight renewal and replays the
// call exactly once. Calls to the login, registration and renewal endpoints
// are never renewed or replayed.
//
// Concurrency: any number of goroutines may call Do. Concurrent 401s share one
// renewal; a 401 that arrives after another caller already replaced the token
// replays with the current token instead of renewing again.
//
// Observability: each call is an OpenTelemetry span with W3C propagation
// headers, Prometheus counts attempts, latencies, renewals and replays, and
// zerolog records one debug line per attempt. Tokens are never logged.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/session"
)

// Endpoints that are never renewed or replayed.
const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathRefresh  = "/auth/refresh"
)

const maxBodyBytes = 1 << 20

// Request describes one REST call relative to the API base URL.
type Request struct {
	Method string
	Path   string     // e.g. "/chat/threads/7/close"
	Route  string     // metrics label, e.g. "/chat/threads/{id}/close"; defaults to Path
	Query  url.Values // optional
	Body   any        // JSON-encoded when non-nil

	retried bool
}

// Retried reports whether the call has already been replayed once.
func (r *Request) Retried() bool { return r.retried }

func (r *Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Path
}

// Options configures a Gateway.
type Options struct {
	BaseURL        string         // e.g. http://localhost:8000/api/v1
	HTTPClient     *http.Client   // optional; built from Jar and RequestTimeout when nil
	Jar            http.CookieJar // carries the refresh cookie
	RequestTimeout time.Duration  // per attempt; 0 means none
	RenewTimeout   time.Duration  // renewal call; 0 means 10s
	RPS            float64        // optional pacing of outbound calls; 0 disables
	Burst          int
	Logger         *zerolog.Logger
}

// Gateway is safe for concurrent use.
type Gateway struct {
	base         string
	client       *http.Client
	session      *session.Session
	renewTimeout time.Duration
	limiter      *rate.Limiter
	flight       singleflight.Group
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// New returns a Gateway bound to sess.
func New(sess *session.Session, opts Options) (*Gateway, error) {
	if sess == nil {
		return nil, errors.New("gateway: nil session")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", opts.BaseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout, Jar: opts.Jar}
	}
	g := &Gateway{
		base:         strings.TrimRight(opts.BaseURL, "/"),
		client:       client,
		session:      sess,
		renewTimeout: opts.RenewTimeout,
		tracer:       otel.Tracer("gateway"),
		logger:       log.Logger,
	}
	if g.renewTimeout <= 0 {
		g.renewTimeout = 10 * time.Second
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if opts.Logger != nil {
		g.logger = *opts.Logger
	}
	return g, nil
}

// Session returns the session the gateway authenticates with.
func (g *Gateway) Session() *session.Session { return g.session }

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil).
//
// Error semantics:
//   - 401 on login/register/refresh: wraps domain.ErrAuthRejected.
//   - 401 elsewhere, renewal failed: the session is cleared and the original
//     *APIError is returned wrapped with domain.ErrAuthRejected.
//   - 401 after the single replay: wraps domain.ErrAuthExpired.
//   - any other non-2xx: *APIError, unmodified.
func (g *Gateway) Do(ctx context.Context, req *Request, out any) error {
	ctx, span := g.tracer.Start(ctx, "gateway.Do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.route()),
		),
	)
	defer span.End()

	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("gateway: encode body: %w", err)
		}
		body = b
	}

	tok, gen := g.session.Snapshot()
	status, raw, reqID, err := g.attempt(ctx, req, body, tok)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return err
	}

	if status == http.StatusUnauthorized && !isAuthPath(req.Path) && !req.retried {
		first := decodeAPIError(req.Method, req.Path, status, raw, reqID)
		newTok, source, rerr := g.recover(ctx, gen)
		if rerr != nil {
			span.SetStatus(codes.Error, "renewal failed")
			if errors.Is(rerr, context.Canceled) || errors.Is(rerr, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return fmt.Errorf("%w: %w", domain.ErrAuthRejected, first)
		}
		req.retried = true
		replaysTotal.WithLabelValues(source).Inc()
		span.SetAttributes(attribute.Bool("gateway.replayed", true))

		status, raw, reqID, err = g.attempt(ctx, req, body, newTok)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport")
			return err
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err := g.finish(req, status, raw, reqID, out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// recover obtains the token to replay with. gen is the session generation
// observed when the failed attempt was sent.
func (g *Gateway) recover(ctx context.Context, gen uint64) (string, string, error) {
	cur, curGen := g.session.Snapshot()
	if curGen != gen {
		if cur != "" {
			return cur, "rotated", nil
		}
		return "", "", domain.ErrAuthRejected
	}
	tok, err := g.renew(ctx, gen)
	if err != nil {
		return "", "", err
	}
	return tok, "renewed", nil
}

func (g *Gateway) finish(req *Request, status int, raw []byte, reqID string, out any) error {
	switch {
	case status >= 200 && status < 300:
		if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("gateway: decode %s %s: %w", req.Method, req.Path, err)
		}
		return nil
	case status == http.StatusUnauthorized && isAuthPath(req.Path):
		return fmt.Errorf("%w: %w", domain.ErrAuthRejected, decodeAPIError(req.Method, req.Path, status, raw, reqID))
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, decodeAPIError(req.Method, req.Path, status, raw, reqID))
	default:
		return decodeAPIError(req.Method, req.Path, status, raw, reqID)
	}
}

// attempt performs one HTTP exchange and returns the status and body.
func (g *Gateway) attempt(ctx context.Context, req *Request, body []byte, token string) (int, []byte, string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, nil, "", err
		}
	}

	u := g.base + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, u, rdr)
	if err != nil {
		return 0, nil, "", fmt.Errorf("gateway: build request: %w", err)
	}
	reqID := uuid.NewString()
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("X-Request-ID", reqID)
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hr.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(hr.Header))

	start := time.Now()
	resp, err := g.client.Do(hr)
	dur := time.Since(start)
	requestDuration.WithLabelValues(req.Method, req.route()).Observe(dur.Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(req.Method, req.route(), "error").Inc()
		g.logger.Debug().Err(err).
			Str("method", req.Method).Str("path", req.Path).Str("request_id", reqID).
			Dur("dur", dur).Msg("api call failed")
		return 0, nil, reqID, fmt.Errorf("gateway: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, reqID, fmt.Errorf("gateway: read %s %s: %w", req.Method, req.Path, err)
	}
	if id := resp.Header.Get("X-Request-ID"); id != "" {
		reqID = id
	}
	requestsTotal.WithLabelValues(req.Method, req.route(), strconv.Itoa(resp.StatusCode)).Inc()
	g.logger.Debug().
		Str("method", req.Method).Str("path", req.Path).Int("status", resp.StatusCode).
		Bool("retried", req.retried).Str("request_id", reqID).Dur("dur", dur).
		Msg("api call")
	return resp.StatusCode, raw, reqID, nil
}

func isAuthPath(p string) bool {
	switch strings.TrimRight(p, "/") {
	case PathLogin, PathRegister, PathRefresh:
		return true
	}
	return false
}
