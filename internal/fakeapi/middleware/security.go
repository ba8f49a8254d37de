// Package middleware contains the Gin middleware of the fake backend.
// This file sets baseline security headers.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets baseline API hardening headers. Responses under any of
// noStorePrefixes get Cache-Control: no-store.
func SecurityHeaders(noStorePrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		for _, p := range noStorePrefixes {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
				break
			}
		}
		c.Next()
	}
}
