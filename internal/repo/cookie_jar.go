// Package repo implements the local persistence of the client, backed by GORM.
//
// This file provides CookieJar, an http.CookieJar that survives restarts.
// Cookies are stored with the scope the jar applied (host-only or domain,
// and the effective path) so a reload restores the same matching rules.
package repo

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// CookieJar is an http.CookieJar that mirrors every cookie it accepts into
// the cookies table, so a later process can present the same refresh
// cookie. Lookups are served by an in-memory cookiejar.Jar.
type CookieJar struct {
	db      *gorm.DB
	profile string

	mu  sync.Mutex
	jar *cookiejar.Jar
	now func() time.Time
}

// NewCookieJar builds a jar for profile and replays the unexpired rows.
func NewCookieJar(ctx context.Context, db *gorm.DB, profile string) (*CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	j := &CookieJar{db: db, profile: profile, jar: jar, now: time.Now}

	var rows []domain.StoredCookie
	if err := db.WithContext(ctx).Where("profile = ?", profile).Find(&rows).Error; err != nil {
		return nil, err
	}
	now := j.now()
	for _, r := range rows {
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			continue
		}
		scheme := "http"
		if r.Secure {
			scheme = "https"
		}
		c := &http.Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Path:     r.Path,
			Secure:   r.Secure,
			HttpOnly: r.HTTPOnly,
		}
		if r.DomainScoped {
			c.Domain = r.Host
		}
		if r.ExpiresAt != nil {
			c.Expires = *r.ExpiresAt
		}
		jar.SetCookies(&url.URL{Scheme: scheme, Host: r.Host, Path: r.Path}, []*http.Cookie{c})
	}
	return j, nil
}

// Cookies implements http.CookieJar.
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// SetCookies implements http.CookieJar. Persistence failures are logged;
// the in-memory jar is always updated.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)

	ctx := context.Background()
	now := j.now()
	for _, c := range cookies {
		host, scoped, ok := cookieHost(u.Hostname(), c.Domain)
		if !ok {
			continue
		}
		path := c.Path
		if path == "" || path[0] != '/' {
			path = defaultPath(u.Path)
		}
		key := j.db.WithContext(ctx).Where("profile = ? AND host = ? AND path = ? AND name = ?", j.profile, host, path, c.Name)

		var expires *time.Time
		switch {
		case c.MaxAge < 0:
			expires = &now
		case c.MaxAge > 0:
			e := now.Add(time.Duration(c.MaxAge) * time.Second)
			expires = &e
		case !c.Expires.IsZero():
			e := c.Expires.UTC()
			expires = &e
		}
		if expires != nil && !expires.After(now) {
			if err := key.Delete(&domain.StoredCookie{}).Error; err != nil {
				log.Warn().Err(err).Str("cookie", c.Name).Msg("cookie jar: delete failed")
			}
			continue
		}

		row := domain.StoredCookie{
			Profile:      j.profile,
			Host:         host,
			Path:         path,
			Name:         c.Name,
			Value:        c.Value,
			DomainScoped: scoped,
			Secure:       c.Secure,
			HTTPOnly:     c.HttpOnly,
			ExpiresAt:    expires,
			UpdatedAt:    now.UTC(),
		}
		err := j.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
		if err != nil {
			log.Warn().Err(err).Str("cookie", c.Name).Msg("cookie jar: persist failed")
		}
	}
}

// cookieHost returns the host a cookie is stored under and whether it is
// domain-scoped. ok is false when the Domain attribute does not cover the
// request host, which the jar rejects as well.
func cookieHost(reqHost, attr string) (host string, scoped, ok bool) {
	d := strings.ToLower(strings.TrimPrefix(attr, "."))
	if d == "" {
		return reqHost, false, true
	}
	h := strings.ToLower(reqHost)
	if h != d && !strings.HasSuffix(h, "."+d) {
		return "", false, false
	}
	return d, true, true
}

// defaultPath is the RFC 6265 default-path of a request path: everything up
// to, but not including, the right-most "/", or "/" when that is empty.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// Clear drops every stored cookie of the profile. The in-memory jar is
// replaced with an empty one.
func (j *CookieJar) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	j.jar = jar
	return j.db.WithContext(ctx).Where("profile = ?", j.profile).Delete(&domain.StoredCookie{}).Error
}
