package domain

import "github.com/google/uuid"

// NewClientKey returns a fresh idempotency key for an outgoing message.
func NewClientKey() string {
	return uuid.NewString()
}
