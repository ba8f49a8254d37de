// Package realtime – wire events
//
// This file defines the JSON envelope shared by client and server and
// decodes it into typed events.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// EventType tags a realtime envelope.
type EventType string

const (
	EventJoin    EventType = "join"
	EventHistory EventType = "history"
	EventMessage EventType = "message"
	EventError   EventType = "error"
)

// Envelope is the JSON frame exchanged over the realtime connection.
//
//	{"type":"join","thread_id":7}
//	{"type":"history","thread_id":7,"messages":[...]}
//	{"type":"message","thread_id":7,"message":{...}}
//	{"type":"error","thread_id":7,"code":"closed","error":"...","client_id":"..."}
type Envelope struct {
	Type      EventType        `json:"type"`
	ThreadID  int64            `json:"thread_id"`
	Messages  []domain.Message `json:"messages,omitempty"`
	Message   *domain.Message  `json:"message,omitempty"`
	Code      string           `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
	ClientKey string           `json:"client_id,omitempty"`
}

// Event is a decoded inbound frame. Every event names its thread.
type Event interface {
	Thread() int64
	Type() EventType
}

// HistoryEvent is the full log of a thread, sent in reply to a join.
type HistoryEvent struct {
	ThreadID int64
	Messages []domain.Message
}

// MessageEvent is one persisted message, including echoes of own sends.
type MessageEvent struct {
	ThreadID int64
	Message  domain.Message
}

// ErrorEvent is a server-side refusal. ClientKey is set when it concerns
// one outgoing message.
type ErrorEvent struct {
	ThreadID  int64
	Code      string
	Message   string
	ClientKey string
}

// JoinEvent is only ever sent by the client; servers may echo it.
type JoinEvent struct {
	ThreadID int64
}

func (e HistoryEvent) Thread() int64 { return e.ThreadID }
func (e MessageEvent) Thread() int64 { return e.ThreadID }
func (e ErrorEvent) Thread() int64   { return e.ThreadID }
func (e JoinEvent) Thread() int64    { return e.ThreadID }

func (HistoryEvent) Type() EventType { return EventHistory }
func (MessageEvent) Type() EventType { return EventMessage }
func (ErrorEvent) Type() EventType   { return EventError }
func (JoinEvent) Type() EventType    { return EventJoin }

// ErrInvalidEvent wraps every decoding failure.
var ErrInvalidEvent = errors.New("invalid realtime event")

// DecodeEvent parses one inbound frame.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	switch env.Type {
	case EventHistory:
		msgs := env.Messages
		for i := range msgs {
			if msgs[i].ThreadID == 0 {
				msgs[i].ThreadID = env.ThreadID
			}
		}
		return HistoryEvent{ThreadID: env.ThreadID, Messages: msgs}, nil
	case EventMessage:
		if env.Message == nil {
			return nil, fmt.Errorf("%w: message event without message", ErrInvalidEvent)
		}
		m := *env.Message
		switch {
		case m.ThreadID == 0:
			m.ThreadID = env.ThreadID
		case env.ThreadID != 0 && m.ThreadID != env.ThreadID:
			return nil, fmt.Errorf("%w: thread %d carries message of thread %d", ErrInvalidEvent, env.ThreadID, m.ThreadID)
		}
		return MessageEvent{ThreadID: m.ThreadID, Message: m}, nil
	case EventError:
		return ErrorEvent{ThreadID: env.ThreadID, Code: env.Code, Message: env.Error, ClientKey: env.ClientKey}, nil
	case EventJoin:
		return JoinEvent{ThreadID: env.ThreadID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, env.Type)
	}
}

// EncodeJoin builds the join frame for a thread.
func EncodeJoin(threadID int64) ([]byte, error) {
	return json.Marshal(Envelope{Type: EventJoin, ThreadID: threadID})
}

// EncodeMessage builds the frame carrying an outgoing message.
func EncodeMessage(m domain.Message) ([]byte, error) {
	return json.Marshal(Envelope{Type: EventMessage, ThreadID: m.ThreadID, Message: &m})
}
