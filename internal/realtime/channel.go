// Package realtime implements the live conversation channel: one websocket
// connection bound to one thread, its join handshake, the ordered message
// log with optimistic sends, and the per-thread reducer that ignores events
// belonging to any other thread.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// State is the lifecycle of a channel.
//
//	Disconnected -> Connecting -> Joined -> Disconnected | Error
//	Connecting   -> Error
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// ErrEmptyMessage is returned for a message that is blank after trimming.
var ErrEmptyMessage = errors.New("empty message")

// SendGate decides whether a thread may still carry messages.
type SendGate interface {
	CanSend(threadID int64) error
}

// UpdateKind tags an Update.
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdateHistory
	UpdateMessage
	UpdateError
)

// Update is published to Updates() whenever the visible state of the channel
// changes.
type Update struct {
	ThreadID int64
	Kind     UpdateKind
	State    State
	Entry    *Entry
	Err      error
}

// Channel is one live connection joined to one thread.
type Channel struct {
	threadID int64
	selfID   int64

	log     *MessageLog
	gate    SendGate
	limiter *rate.Limiter
	logger  zerolog.Logger

	writeTimeout time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	err   error

	closing  atomic.Bool
	joinOnce sync.Once
	joined   chan struct{}
	failed   chan error
	done     chan struct{}
	stopOnce sync.Once

	pubMu     sync.Mutex
	updates   chan Update
	pubClosed bool
}

func newChannel(threadID, selfID int64, gate SendGate, opts Options) *Channel {
	ch := &Channel{
		threadID:     threadID,
		selfID:       selfID,
		log:          NewMessageLog(),
		gate:         gate,
		logger:       opts.logger().With().Int64("thread_id", threadID).Logger(),
		writeTimeout: opts.WriteTimeout,
		joined:       make(chan struct{}),
		failed:       make(chan error, 1),
		done:         make(chan struct{}),
		updates:      make(chan Update, opts.updateBuffer()),
	}
	if opts.SendRPS > 0 {
		ch.limiter = rate.NewLimiter(rate.Limit(opts.SendRPS), max(opts.SendBurst, 1))
	}
	return ch
}

// ThreadID returns the thread this channel is bound to.
func (ch *Channel) ThreadID() int64 { return ch.threadID }

// Log returns the channel's message log.
func (ch *Channel) Log() *MessageLog { return ch.log }

// Updates delivers state changes, history and messages. It is closed when
// the channel is closed.
func (ch *Channel) Updates() <-chan Update { return ch.updates }

// State returns the current lifecycle state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Err returns the error that moved the channel into StateError.
func (ch *Channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

func (ch *Channel) setState(s State, err error) {
	ch.mu.Lock()
	ch.state = s
	ch.err = err
	ch.mu.Unlock()
	ch.publish(Update{Kind: UpdateState, State: s, Err: err})
}

// open dials, joins and blocks until history arrives or ctx, the connect
// timeout, or a server error ends the attempt.
func (ch *Channel) open(ctx context.Context, dialer *websocket.Dialer, url, token string, timeout time.Duration) error {
	ch.setState(StateConnecting, nil)

	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.DialContext(cctx, url, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = fmt.Errorf("%w: %w", domain.ErrConversationUnavailable, domain.ErrAuthExpired)
		} else {
			err = fmt.Errorf("%w: dial: %w", domain.ErrConversationUnavailable, err)
		}
		ch.logger.Warn().Err(err).Msg("realtime dial failed")
		ch.setState(StateError, err)
		close(ch.done)
		ch.closePublisher()
		return err
	}
	ch.conn = conn
	channelsOpen.Inc()
	go ch.readLoop()

	join, _ := EncodeJoin(ch.threadID)
	if err := ch.write(join); err != nil {
		err = fmt.Errorf("%w: join: %w", domain.ErrConversationUnavailable, err)
		ch.fail(err)
		ch.Close()
		return err
	}

	select {
	case <-ch.joined:
		ch.logger.Debug().Int("history", ch.log.Len()).Msg("realtime joined")
		return nil
	case err := <-ch.failed:
		ch.fail(err)
		ch.Close()
		return err
	case <-cctx.Done():
		err := fmt.Errorf("%w: join: %w", domain.ErrConversationUnavailable, cctx.Err())
		ch.fail(err)
		ch.Close()
		return err
	}
}

func (ch *Channel) readLoop() {
	defer close(ch.done)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if ch.closing.Load() {
				return
			}
			ch.fail(fmt.Errorf("%w: %w", domain.ErrConversationUnavailable, err))
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			eventsTotal.WithLabelValues("invalid").Inc()
			ch.logger.Warn().Err(err).Msg("realtime event dropped")
			continue
		}
		ch.apply(ev)
	}
}

// apply is the per-thread reducer. Events for another thread, or arriving
// after teardown began, are dropped.
func (ch *Channel) apply(ev Event) {
	if e, ok := ev.(ErrorEvent); ok && e.ThreadID == 0 && !ch.closing.Load() && !ch.isJoined() {
		// Refusals sent before the join name no thread.
		eventsTotal.WithLabelValues(string(EventError)).Inc()
		ch.logger.Warn().Str("code", e.Code).Msg(e.Message)
		select {
		case ch.failed <- fmt.Errorf("%w: realtime error %s: %s", domain.ErrConversationUnavailable, e.Code, e.Message):
		default:
		}
		return
	}
	if ch.closing.Load() || ev.Thread() != ch.threadID {
		staleEventsDropped.Inc()
		ch.logger.Debug().Int64("event_thread", ev.Thread()).Str("type", string(ev.Type())).Msg("stale event dropped")
		return
	}
	eventsTotal.WithLabelValues(string(ev.Type())).Inc()

	switch e := ev.(type) {
	case HistoryEvent:
		ch.log.ReplaceHistory(e.Messages)
		ch.publish(Update{Kind: UpdateHistory, State: StateJoined})
		ch.joinOnce.Do(func() {
			ch.mu.Lock()
			ch.state = StateJoined
			ch.mu.Unlock()
			ch.publish(Update{Kind: UpdateState, State: StateJoined})
			close(ch.joined)
		})
	case MessageEvent:
		switch ch.log.Apply(e.Message) {
		case Duplicate:
			duplicatesSuppressed.Inc()
			ch.logger.Debug().Str("client_id", e.Message.ClientKey).Msg("duplicate message suppressed")
			return
		case Reconciled:
			ch.logger.Debug().Str("client_id", e.Message.ClientKey).Msg("own message confirmed")
		}
		if entry, ok := ch.log.Lookup(e.Message.ClientKey); ok {
			ch.publish(Update{Kind: UpdateMessage, State: StateJoined, Entry: &entry})
		} else {
			entry := Entry{Message: e.Message}
			ch.publish(Update{Kind: UpdateMessage, State: StateJoined, Entry: &entry})
		}
	case ErrorEvent:
		err := fmt.Errorf("realtime error %s: %s", e.Code, e.Message)
		if e.ClientKey != "" && ch.log.MarkFailed(e.ClientKey) {
			sendsTotal.WithLabelValues("refused").Inc()
		}
		if !ch.isJoined() {
			select {
			case ch.failed <- fmt.Errorf("%w: %w", domain.ErrConversationUnavailable, err):
			default:
			}
		}
		ch.logger.Warn().Str("code", e.Code).Str("client_id", e.ClientKey).Msg(e.Message)
		ch.publish(Update{Kind: UpdateError, State: ch.State(), Err: err})
	}
}

func (ch *Channel) isJoined() bool {
	select {
	case <-ch.joined:
		return true
	default:
		return false
	}
}

// Send posts text to the thread. The message appears in the log as pending
// immediately and is reconciled when the server echoes its key.
func (ch *Channel) Send(ctx context.Context, text string) (domain.Message, error) {
	if ch.closing.Load() || ch.State() != StateJoined {
		sendsTotal.WithLabelValues("blocked").Inc()
		return domain.Message{}, &domain.SendBlockedError{ThreadID: ch.threadID, Reason: domain.ReasonNotJoined}
	}
	if ch.gate != nil {
		if err := ch.gate.CanSend(ch.threadID); err != nil {
			sendsTotal.WithLabelValues("blocked").Inc()
			return domain.Message{}, err
		}
	}
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if ch.limiter != nil {
		if err := ch.limiter.Wait(ctx); err != nil {
			return domain.Message{}, err
		}
	}

	msg := domain.Message{
		ThreadID:  ch.threadID,
		SenderID:  ch.selfID,
		Text:      text,
		ClientKey: domain.NewClientKey(),
		CreatedAt: time.Now().UTC(),
	}
	ch.log.AddPending(msg)
	entry := Entry{Message: msg, Pending: true}
	ch.publish(Update{Kind: UpdateMessage, State: StateJoined, Entry: &entry})

	data, err := EncodeMessage(msg)
	if err == nil {
		err = ch.write(data)
	}
	if err != nil {
		ch.log.MarkFailed(msg.ClientKey)
		sendsTotal.WithLabelValues("failed").Inc()
		err = fmt.Errorf("%w: send: %w", domain.ErrConversationUnavailable, err)
		ch.fail(err)
		return msg, err
	}
	sendsTotal.WithLabelValues("sent").Inc()
	return msg, nil
}

func (ch *Channel) write(data []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if ch.writeTimeout > 0 {
		_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.writeTimeout))
	}
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// fail moves the channel into StateError once; later failures are ignored.
func (ch *Channel) fail(err error) {
	ch.mu.Lock()
	if ch.state == StateError || ch.closing.Load() {
		ch.mu.Unlock()
		return
	}
	ch.state = StateError
	ch.err = err
	ch.mu.Unlock()

	select {
	case ch.failed <- err:
	default:
	}
	ch.logger.Warn().Err(err).Msg("realtime channel failed")
	ch.publish(Update{Kind: UpdateState, State: StateError, Err: err})
	if ch.conn != nil {
		_ = ch.conn.Close()
	}
}

// Close leaves the thread. It is idempotent and returns after the reader
// has stopped, so no event of this channel is applied afterwards.
func (ch *Channel) Close() {
	ch.teardown()
	ch.mu.Lock()
	errored := ch.state == StateError
	ch.mu.Unlock()
	if !errored {
		ch.setState(StateDisconnected, nil)
	}
	ch.closePublisher()
}

func (ch *Channel) teardown() {
	ch.stopOnce.Do(func() {
		ch.closing.Store(true)
		if ch.conn == nil {
			return
		}
		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ch.writeMu.Unlock()
		_ = ch.conn.Close()
		<-ch.done
		channelsOpen.Dec()
	})
}

func (ch *Channel) publish(u Update) {
	u.ThreadID = ch.threadID
	ch.pubMu.Lock()
	defer ch.pubMu.Unlock()
	if ch.pubClosed {
		return
	}
	select {
	case ch.updates <- u:
	default:
		ch.logger.Debug().Int("kind", int(u.Kind)).Msg("update dropped, consumer too slow")
	}
}

func (ch *Channel) closePublisher() {
	ch.pubMu.Lock()
	defer ch.pubMu.Unlock()
	if !ch.pubClosed {
		ch.pubClosed = true
		close(ch.updates)
	}
}
