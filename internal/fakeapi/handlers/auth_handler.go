// Package handlers – auth endpoints
//
// This file implements registration, login, refresh, logout and /auth/me.
// The refresh token travels only in an HttpOnly cookie; the access token is
// returned in the JSON body.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/middleware"
)

// Register handles POST /auth/register {name,surname,email,password} -> 201 user.
func (h *Handlers) Register(c *gin.Context) {
	var in domain.Registration
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.store.CreateUser(c.Request.Context(), in)
	if err != nil {
		storeFail(c, err)
		return
	}
	ok(c, http.StatusCreated, u.Identity())
}

// Login handles POST /auth/login {email,password} -> {access_token, token_type}.
// The refresh credential is set as an HttpOnly cookie.
func (h *Handlers) Login(c *gin.Context) {
	var in domain.Credentials
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Email) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}
	ctx := c.Request.Context()
	u, err := h.store.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		storeFail(c, err)
		return
	}
	access, refresh, err := h.store.IssueSession(ctx, u.ID)
	if err != nil {
		storeFail(c, err)
		return
	}
	h.setRefreshCookie(c, refresh, int(h.store.RefreshTTL.Seconds()))
	ok(c, http.StatusOK, domain.TokenResponse{AccessToken: access, TokenType: "bearer"})
}

// Refresh handles POST /auth/refresh (cookie) -> {access_token}.
func (h *Handlers) Refresh(c *gin.Context) {
	refresh, err := c.Cookie(RefreshCookie)
	if err != nil || refresh == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing refresh credential")
		return
	}
	access, err := h.store.Renew(c.Request.Context(), refresh)
	if err != nil {
		storeFail(c, err)
		return
	}
	ok(c, http.StatusOK, domain.TokenResponse{AccessToken: access, TokenType: "bearer"})
}

// Logout handles POST /auth/logout -> 204. Revokes the refresh credential and
// every token of its user, then clears the cookie. Succeeds without a cookie.
func (h *Handlers) Logout(c *gin.Context) {
	if refresh, err := c.Cookie(RefreshCookie); err == nil && refresh != "" {
		if err := h.store.Revoke(c.Request.Context(), refresh); err != nil {
			storeFail(c, err)
			return
		}
	}
	h.setRefreshCookie(c, "", -1)
	noContent(c)
}

// Me handles GET /auth/me -> {id,email,name,surname}.
func (h *Handlers) Me(c *gin.Context) {
	u, found := middleware.CurrentUser(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
		return
	}
	ok(c, http.StatusOK, u.Identity())
}

func (h *Handlers) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(RefreshCookie, value, maxAge, h.cookiePath, "", h.secure, true)
}
