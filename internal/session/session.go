// Package session holds the process-wide authentication state of the client:
// the live access token, its durable copy, the cached identity of the caller,
// and the startup resolver that restores a session silently.
//
// A Session replaces a global token variable. Every write bumps a generation
// counter so the request gateway can tell whether the credential changed while
// a call was in flight.
package session

import (
	"context"
	"sync"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// CredentialStore is the durable slot for the access token.
// Get returns "" when nothing is stored; Set("") removes the stored copy.
type CredentialStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
}

// Status is the authentication state of a session.
type Status int

const (
	// StatusUnknown: the startup resolver has not finished.
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is safe for concurrent use.
type Session struct {
	store CredentialStore

	// persistMu orders writes so the durable copy always ends with the same
	// value as memory. Readers only take mu.
	persistMu sync.Mutex

	mu       sync.RWMutex
	token    string
	gen      uint64
	status   Status
	identity *domain.Identity
}

// New loads the persisted token, if any. The status stays StatusUnknown
// until SetToken, Clear, or the resolver decides it.
func New(ctx context.Context, store CredentialStore) (*Session, error) {
	tok, err := store.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{store: store, token: tok}, nil
}

// Token returns the current access token or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Snapshot returns the token together with its generation.
func (s *Session) Snapshot() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.gen
}

// Generation increases on every SetToken and Clear.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Status reports the authentication state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Authenticated is shorthand for Status() == StatusAuthenticated.
func (s *Session) Authenticated() bool {
	return s.Status() == StatusAuthenticated
}

// SetToken stores token in memory and durably and marks the session
// authenticated. A blank token behaves like Clear. The in-memory value is
// updated even when persisting fails; the persistence error is returned.
func (s *Session) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return s.Clear(ctx)
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if token != s.token {
		s.identity = nil
	}
	s.token = token
	s.gen++
	s.status = StatusAuthenticated
	s.mu.Unlock()
	return s.store.Set(ctx, token)
}

// Clear drops the token and the cached identity and marks the session
// anonymous.
func (s *Session) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.token = ""
	s.identity = nil
	s.gen++
	s.status = StatusAnonymous
	s.mu.Unlock()
	return s.store.Set(ctx, "")
}

// Identity returns the cached caller identity.
func (s *Session) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

// SetIdentity caches the caller identity for the current token.
func (s *Session) SetIdentity(id domain.Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
}
