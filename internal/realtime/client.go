// Package realtime – Client
//
// This file owns the single active channel. Entering a thread tears the
// previous channel down, and waits for its reader, before dialing again.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// TokenSource yields the access token presented when dialing.
type TokenSource interface {
	Token() string
}

// IdentitySource yields the caller's user id; own sends carry it.
type IdentitySource interface {
	SelfID(ctx context.Context) (int64, error)
}

// Options configures a Client.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	SendRPS        float64
	SendBurst      int
	UpdateBuffer   int
	Dialer         *websocket.Dialer
	Logger         *zerolog.Logger
}

func (o Options) logger() *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return &log.Logger
}

func (o Options) updateBuffer() int {
	if o.UpdateBuffer > 0 {
		return o.UpdateBuffer
	}
	return 64
}

// Client owns at most one live channel at a time. Entering a thread tears the
// previous channel down before the new one is dialed.
type Client struct {
	opts   Options
	tokens TokenSource
	ident  IdentitySource
	gate   SendGate
	dialer *websocket.Dialer

	mu     sync.Mutex
	active *Channel
}

// NewClient builds a client. gate may be nil.
func NewClient(opts Options, tokens TokenSource, ident IdentitySource, gate SendGate) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("realtime: URL is required")
	}
	if tokens == nil || ident == nil {
		return nil, errors.New("realtime: token and identity sources are required")
	}
	d := opts.Dialer
	if d == nil {
		d = &websocket.Dialer{
			HandshakeTimeout: opts.ConnectTimeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		}
	}
	return &Client{opts: opts, tokens: tokens, ident: ident, gate: gate, dialer: d}, nil
}

// Enter joins threadID and returns the joined channel. Re-entering the thread
// that is already joined returns the existing channel.
func (c *Client) Enter(ctx context.Context, threadID int64) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		if c.active.ThreadID() == threadID && c.active.State() == StateJoined {
			return c.active, nil
		}
		c.active.Close()
		c.active = nil
	}

	self, err := c.ident.SelfID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConversationUnavailable, err)
	}
	ch := newChannel(threadID, self, c.gate, c.opts)
	if err := ch.open(ctx, c.dialer, c.opts.URL, c.tokens.Token(), c.opts.ConnectTimeout); err != nil {
		return nil, err
	}
	c.active = ch
	return ch, nil
}

// Leave closes the active channel, if any.
func (c *Client) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.Close()
		c.active = nil
	}
}

// Active returns the current channel or nil.
func (c *Client) Active() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Send posts text on the active channel.
func (c *Client) Send(ctx context.Context, threadID int64, text string) (domain.Message, error) {
	ch := c.Active()
	if ch == nil || ch.ThreadID() != threadID {
		sendsTotal.WithLabelValues("blocked").Inc()
		return domain.Message{}, &domain.SendBlockedError{ThreadID: threadID, Reason: domain.ReasonNotJoined}
	}
	return ch.Send(ctx, text)
}
