// Package services holds the client's business rules on top of the REST
// calls: authentication flows, the conversation directory, and the two-party
// close handshake. This file centralizes the service-level error values so
// callers (the CLI, the realtime channel) can match them with errors.Is.
package services

import "errors"

// Authentication errors.
var (
	// ErrInvalidInput is returned when required login or registration
	// fields are blank. No request is sent.
	ErrInvalidInput = errors.New("email and password are required")

	// ErrNoIdentity is returned when an operation needs the caller's
	// identity but the session is not authenticated.
	ErrNoIdentity = errors.New("caller identity unavailable")
)

// Directory errors.
var (
	// ErrSelfConversation is returned by EnsureThread when the peer is the
	// caller. The precondition is checked locally, without a round trip.
	ErrSelfConversation = errors.New("cannot open a conversation with yourself")

	// ErrUnknownThread indicates that the thread is not in the directory
	// snapshot of the caller.
	ErrUnknownThread = errors.New("thread not found")

	// ErrDirectoryStale is returned when a mutating call succeeded but the
	// follow-up refresh failed, so the snapshot may not reflect it yet.
	ErrDirectoryStale = errors.New("directory refresh failed")
)

// Close handshake errors.
var (
	// ErrNoPendingClose is returned by Confirm when Begin was not called
	// (or the request was cancelled) for that thread.
	ErrNoPendingClose = errors.New("no pending close request")

	// ErrAlreadyClosing is returned by Begin when the caller already
	// requested to close the thread.
	ErrAlreadyClosing = errors.New("close already requested")
)
