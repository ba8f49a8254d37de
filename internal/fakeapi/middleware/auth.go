// Package middleware contains the Gin middleware of the fake backend.
//
// This file authenticates bearer tokens. RequireAuth answers 401 before any
// handler runs, which also covers the websocket upgrade.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

const userKey = "user"

// TokenResolver maps a bearer token to its user.
type TokenResolver interface {
	UserForAccess(ctx context.Context, token string) (store.User, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireAuth rejects requests without a valid bearer token with 401. On
// success the user is stored under "user" and its id under "userID".
func RequireAuth(res TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := res.UserForAccess(c.Request.Context(), BearerToken(c.Request))
		if err != nil {
			status, code, msg := http.StatusUnauthorized, "unauthorized", "invalid or expired token"
			if !errors.Is(err, store.ErrTokenInvalid) && !errors.Is(err, store.ErrNotFound) {
				status, code, msg = http.StatusInternalServerError, "internal_error", "token lookup failed"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       code,
				"message":    msg,
			})
			return
		}
		c.Set(userKey, u)
		c.Set("userID", strconv.FormatInt(u.ID, 10))
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c *gin.Context) (store.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return store.User{}, false
	}
	u, ok := v.(store.User)
	return u, ok
}
