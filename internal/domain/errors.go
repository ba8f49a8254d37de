// Package domain – error taxonomy
//
// This file defines the client-wide sentinels callers test with errors.Is,
// and SendBlockedError, which names the reason a send was refused locally.
package domain

import (
	"errors"
	"fmt"
)

// Failure categories shared by the gateway, the directory and the realtime
// channel. Callers match them with errors.Is.
var (
	// ErrAuthExpired means the access token was refused and the call was
	// not, or can no longer be, recovered by a renewal.
	ErrAuthExpired = errors.New("access token expired")

	// ErrAuthRejected means the credentials or the refresh credential were
	// refused. The session is unauthenticated and the user must log in.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrConversationUnavailable means the realtime channel could not be
	// opened, joined, or kept alive.
	ErrConversationUnavailable = errors.New("conversation unavailable")

	// ErrSendBlocked is matched by every *SendBlockedError.
	ErrSendBlocked = errors.New("send blocked")
)

// BlockReason explains why an outgoing message was refused locally.
type BlockReason string

const (
	ReasonNotJoined      BlockReason = "not_joined"
	ReasonCloseRequested BlockReason = "close_requested"
	ReasonClosed         BlockReason = "closed"
)

// SendBlockedError is returned when a message is refused before it reaches
// the network.
type SendBlockedError struct {
	ThreadID int64
	Reason   BlockReason
}

func (e *SendBlockedError) Error() string {
	return fmt.Sprintf("send blocked on thread %d: %s", e.ThreadID, e.Reason)
}

// Unwrap lets errors.Is(err, ErrSendBlocked) match.
func (e *SendBlockedError) Unwrap() error { return ErrSendBlocked }

// BlockedBy reports whether err is a send refusal with the given reason.
func BlockedBy(err error, reason BlockReason) bool {
	var sb *SendBlockedError
	return errors.As(err, &sb) && sb.Reason == reason
}
