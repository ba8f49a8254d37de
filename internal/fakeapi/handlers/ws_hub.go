// Package handlers – realtime hub
//
// This file implements the websocket endpoint. Each connection joins at most
// one thread at a time; messages are stored idempotently by client key and
// broadcast to the thread's subscribers, while a replayed key is echoed to
// the sender only.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-lostfound-client/internal/fakeapi/middleware"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
	"github.com/tbourn/go-lostfound-client/internal/realtime"
)

const (
	defaultHistoryLimit = 200
	hubWriteTimeout     = 5 * time.Second
	maxFrameBytes       = 64 << 10
)

// Hub serves the realtime endpoint. A connection joins one thread at a time;
// persisted messages are fanned out to every connection joined to the thread.
type Hub struct {
	store    *store.Store
	upgrader websocket.Upgrader

	// HistoryLimit caps the history sent on join.
	HistoryLimit int

	mu     sync.Mutex
	rooms  map[int64]map[*peer]struct{}
	peers  map[*peer]struct{}
	closed bool
}

type peer struct {
	conn    *websocket.Conn
	user    store.User
	writeMu sync.Mutex
	thread  int64 // guarded by Hub.mu
}

// NewHub builds a hub over s.
func NewHub(s *store.Store) *Hub {
	return &Hub{
		store: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Native clients send no Origin; auth is the bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		HistoryLimit: defaultHistoryLimit,
		rooms:        make(map[int64]map[*peer]struct{}),
		peers:        make(map[*peer]struct{}),
	}
}

// Serve upgrades an authenticated request and runs its read loop until the
// connection ends. It must be mounted behind middleware.RequireAuth.
func (h *Hub) Serve(c *gin.Context) {
	u, found := middleware.CurrentUser(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	p := &peer{conn: conn, user: u}
	if !h.register(p) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.unregister(p)

	lg := middleware.LoggerFrom(c).With().Int64("user_id", u.ID).Logger()
	lg.Debug().Msg("realtime session opened")
	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lg.Debug().Err(err).Msg("realtime read ended")
			}
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.write(p, realtime.Envelope{Type: realtime.EventError, Code: ErrCodeBadRequest, Error: "invalid frame"})
			continue
		}
		switch env.Type {
		case realtime.EventJoin:
			h.join(ctx, p, env.ThreadID, &lg)
		case realtime.EventMessage:
			h.message(ctx, p, env, &lg)
		default:
			h.write(p, realtime.Envelope{Type: realtime.EventError, ThreadID: env.ThreadID, Code: ErrCodeBadRequest, Error: "unsupported type"})
		}
	}
}

func (h *Hub) join(ctx context.Context, p *peer, threadID int64, lg *zerolog.Logger) {
	if _, err := h.store.Thread(ctx, threadID, p.user.ID); err != nil {
		h.write(p, errorEnvelope(threadID, err, ""))
		return
	}
	rows, err := h.store.Messages(ctx, threadID, h.HistoryLimit)
	if err != nil {
		lg.Error().Err(err).Int64("thread_id", threadID).Msg("history load failed")
		h.write(p, realtime.Envelope{Type: realtime.EventError, ThreadID: threadID, Code: ErrCodeInternal, Error: "history unavailable"})
		return
	}

	h.mu.Lock()
	h.leaveLocked(p)
	room, ok := h.rooms[threadID]
	if !ok {
		room = make(map[*peer]struct{})
		h.rooms[threadID] = room
	}
	room[p] = struct{}{}
	p.thread = threadID
	h.mu.Unlock()

	h.write(p, realtime.Envelope{Type: realtime.EventHistory, ThreadID: threadID, Messages: store.Messages(rows)})
}

func (h *Hub) message(ctx context.Context, p *peer, env realtime.Envelope, lg *zerolog.Logger) {
	if env.Message == nil {
		h.write(p, realtime.Envelope{Type: realtime.EventError, ThreadID: env.ThreadID, Code: ErrCodeBadRequest, Error: "message missing"})
		return
	}
	threadID := env.ThreadID
	if threadID == 0 {
		threadID = env.Message.ThreadID
	}
	key := env.Message.ClientKey

	h.mu.Lock()
	joined := p.thread == threadID && threadID != 0
	h.mu.Unlock()
	if !joined {
		h.write(p, realtime.Envelope{Type: realtime.EventError, ThreadID: threadID, Code: ErrCodeNotJoined, Error: "join the thread first", ClientKey: key})
		return
	}

	row, created, err := h.store.AppendMessage(ctx, threadID, p.user.ID, env.Message.Text, key)
	if err != nil {
		if errors.Is(err, store.ErrThreadClosed) {
			lg.Info().Int64("thread_id", threadID).Msg("message refused on closed thread")
		}
		h.write(p, errorEnvelope(threadID, err, key))
		return
	}
	msg := row.Domain()
	out := realtime.Envelope{Type: realtime.EventMessage, ThreadID: threadID, Message: &msg}
	if !created {
		// Replayed key: only the sender needs its confirmation again.
		h.write(p, out)
		return
	}
	h.broadcast(threadID, out)
}

func (h *Hub) broadcast(threadID int64, env realtime.Envelope) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.rooms[threadID]))
	for p := range h.rooms[threadID] {
		targets = append(targets, p)
	}
	h.mu.Unlock()
	for _, p := range targets {
		h.write(p, env)
	}
}

// write serializes frames per connection. A failed write closes the
// connection, which ends its read loop.
func (h *Hub) write(p *peer, env realtime.Envelope) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := p.conn.WriteJSON(env); err != nil {
		_ = p.conn.Close()
	}
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	h.leaveLocked(p)
	delete(h.peers, p)
	h.mu.Unlock()
	_ = p.conn.Close()
}

func (h *Hub) leaveLocked(p *peer) {
	if p.thread == 0 {
		return
	}
	if room, ok := h.rooms[p.thread]; ok {
		delete(room, p)
		if len(room) == 0 {
			delete(h.rooms, p.thread)
		}
	}
	p.thread = 0
}

// Subscribers returns how many connections are joined to threadID.
func (h *Hub) Subscribers(threadID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[threadID])
}

// Close sends a going-away frame to every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, p := range peers {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = p.conn.Close()
	}
}

func errorEnvelope(threadID int64, err error, key string) realtime.Envelope {
	env := realtime.Envelope{Type: realtime.EventError, ThreadID: threadID, Error: err.Error(), ClientKey: key}
	switch {
	case errors.Is(err, store.ErrThreadClosed):
		env.Code = ErrCodeClosed
	case errors.Is(err, store.ErrNotParticipant):
		env.Code = ErrCodeForbidden
	case errors.Is(err, store.ErrNotFound):
		env.Code = ErrCodeNotFound
	case errors.Is(err, store.ErrInvalidInput):
		env.Code = ErrCodeBadRequest
	default:
		env.Code = ErrCodeInternal
		env.Error = "internal error"
	}
	return env
}
