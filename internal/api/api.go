// Package api maps the backend's REST surface onto typed calls. It holds no
// state: authentication, renewal and replay are the gateway's concern, and
// business rules live in the services package.
package api

import (
	"context"

	"github.com/tbourn/go-lostfound-client/internal/gateway"
)

// Doer sends one REST call. *gateway.Gateway implements it.
type Doer interface {
	Do(ctx context.Context, req *gateway.Request, out any) error
}

var _ Doer = (*gateway.Gateway)(nil)
