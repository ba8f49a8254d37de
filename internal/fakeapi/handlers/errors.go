// Package handlers defines the fake backend's HTTP handlers.
//
// This file centralizes the machine-readable error codes placed in the
// {request_id, code, message} envelope. The client maps them back to its
// own sentinels.
package handlers

// Stable machine-readable error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Conversation specific:
	ErrCodeClosed    = "closed"
	ErrCodeNotJoined = "not_joined"
)
