package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/session"
)

// ----- Fake credential store -----

type memStore struct {
	mu  sync.Mutex
	tok string
}

func (m *memStore) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, nil
}

func (m *memStore) Set(_ context.Context, t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = t
	return nil
}

// ----- Fake backend -----

// backend accepts "Bearer <valid>" on /data, and issues <fresh> on /auth/refresh.
type backend struct {
	mu        sync.Mutex
	valid     string
	fresh     string
	refreshOK bool

	dataHits     atomic.Int64
	data401      atomic.Int64
	refreshHits  atomic.Int64
	lastAuth     atomic.Value // string
	releaseRenew chan struct{}
	renewDelay   time.Duration
	saw401       chan struct{}
}

func newBackend() *backend {
	return &backend{valid: "good", fresh: "good", refreshOK: true, saw401: make(chan struct{}, 64)}
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/data", func(w http.ResponseWriter, r *http.Request) {
		b.dataHits.Add(1)
		auth := r.Header.Get("Authorization")
		b.lastAuth.Store(auth)
		b.mu.Lock()
		ok := auth == "Bearer "+b.valid
		b.mu.Unlock()
		if !ok {
			b.data401.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":"unauthorized","message":"token expired"}`)
			b.saw401 <- struct{}{}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"query":"`+r.URL.RawQuery+`"}`)
	})
	mux.HandleFunc("/api/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.Copy(w, r.Body)
	})
	mux.HandleFunc("/api/v1/boom", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "srv-1")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"request_id":"srv-1","code":"conflict","message":"already exists"}`)
	})
	mux.HandleFunc("/api/v1/detail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"You cannot open a chat with yourself"}`)
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid credentials"}`)
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshHits.Add(1)
		if b.releaseRenew != nil {
			<-b.releaseRenew
		}
		if b.renewDelay > 0 {
			select {
			case <-time.After(b.renewDelay):
			case <-r.Context().Done():
				return
			}
		}
		b.mu.Lock()
		ok, fresh := b.refreshOK, b.fresh
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"refresh expired"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.TokenResponse{AccessToken: fresh, TokenType: "bearer"})
	})
	return mux
}

func newGateway(t *testing.T, b *backend, token string, opts Options) (*Gateway, *session.Session, *memStore) {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	st := &memStore{tok: token}
	sess, err := session.New(context.Background(), st)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	opts.BaseURL = srv.URL + "/api/v1"
	g, err := New(sess, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, sess, st
}

func get(path string) *Request { return &Request{Method: http.MethodGet, Path: path} }

// ----- Tests -----

func TestNew_Validation(t *testing.T) {
	sess, _ := session.New(context.Background(), &memStore{})
	if _, err := New(nil, Options{BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected error for nil session")
	}
	if _, err := New(sess, Options{BaseURL: "/relative"}); err == nil {
		t.Fatalf("expected error for relative base URL")
	}
}

func TestDo_AttachesBearerWhenPresent(t *testing.T) {
	b := newBackend()
	g, _, _ := newGateway(t, b, "good", Options{})

	var out struct {
		OK    bool   `json:"ok"`
		Query string `json:"query"`
	}
	req := get("/data")
	req.Query = url.Values{"limit": {"50"}}
	if err := g.Do(context.Background(), req, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !out.OK || out.Query != "limit=50" {
		t.Fatalf("unexpected body: %+v", out)
	}
	if got := b.lastAuth.Load().(string); got != "Bearer good" {
		t.Fatalf("Authorization = %q", got)
	}
	if b.refreshHits.Load() != 0 {
		t.Fatalf("no renewal expected")
	}
}

func TestDo_NoTokenProceedsUnauthenticated(t *testing.T) {
	b := newBackend()
	b.refreshOK = false
	g, _, _ := newGateway(t, b, "", Options{})

	err := g.Do(context.Background(), get("/data"), nil)
	if !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if got := b.lastAuth.Load().(string); got != "" {
		t.Fatalf("no Authorization header expected, got %q", got)
	}
}

func TestDo_JSONBodyRoundTrip(t *testing.T) {
	g, _, _ := newGateway(t, newBackend(), "good", Options{})
	in := map[string]int64{"item_id": 5, "peer_id": 9}
	var out map[string]int64
	if err := g.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/echo", Body: in}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out["item_id"] != 5 || out["peer_id"] != 9 {
		t.Fatalf("echo mismatch: %+v", out)
	}
}

func TestDo_401RenewsOnceAndReplays(t *testing.T) {
	b := newBackend()
	g, sess, st := newGateway(t, b, "stale", Options{})
	before := testutil.ToFloat64(renewalsTotal.WithLabelValues("success"))

	req := get("/data")
	if err := g.Do(context.Background(), req, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !req.Retried() {
		t.Fatalf("request should be marked retried")
	}
	if b.refreshHits.Load() != 1 || b.dataHits.Load() != 2 {
		t.Fatalf("refresh=%d data=%d; want 1 and 2", b.refreshHits.Load(), b.dataHits.Load())
	}
	if sess.Token() != "good" || st.tok != "good" || !sess.Authenticated() {
		t.Fatalf("renewed token not stored: mem=%q store=%q", sess.Token(), st.tok)
	}
	if got := testutil.ToFloat64(renewalsTotal.WithLabelValues("success")) - before; got != 1 {
		t.Fatalf("renewal success metric delta = %v", got)
	}
}

func TestDo_ConcurrentFailuresShareOneRenewal(t *testing.T) {
	const n = 8
	b := newBackend()
	b.releaseRenew = make(chan struct{})
	g, sess, _ := newGateway(t, b, "stale", Options{})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Do(context.Background(), get("/data"), nil)
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case <-b.saw401:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d calls reached the server", i, n)
		}
	}
	close(b.releaseRenew)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}
	if got := b.refreshHits.Load(); got != 1 {
		t.Fatalf("renewal calls = %d; want 1", got)
	}
	if sess.Token() != "good" {
		t.Fatalf("token = %q", sess.Token())
	}
}

func TestDo_ConcurrentFailuresAllFailWhenRenewalFails(t *testing.T) {
	const n = 6
	b := newBackend()
	b.refreshOK = false
	b.releaseRenew = make(chan struct{})
	g, sess, st := newGateway(t, b, "stale", Options{})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Do(context.Background(), get("/data"), nil)
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case <-b.saw401:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d calls reached the server", i, n)
		}
	}
	close(b.releaseRenew)
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, domain.ErrAuthRejected) {
			t.Fatalf("expected ErrAuthRejected, got %v", err)
		}
		if StatusOf(err) != http.StatusUnauthorized {
			t.Fatalf("original 401 should be preserved, got status %d", StatusOf(err))
		}
	}
	if got := b.refreshHits.Load(); got != 1 {
		t.Fatalf("renewal calls = %d; want 1", got)
	}
	if sess.Token() != "" || st.tok != "" || sess.Status() != session.StatusAnonymous {
		t.Fatalf("token should be cleared after failed renewal")
	}
	if got := b.dataHits.Load(); got != n {
		t.Fatalf("no call should be replayed, data hits = %d", got)
	}
}

func TestDo_ReplayedCallIsNotRetriedAgain(t *testing.T) {
	b := newBackend()
	b.fresh = "also-bad" // renewal succeeds but the server keeps refusing
	g, _, _ := newGateway(t, b, "stale", Options{})

	err := g.Do(context.Background(), get("/data"), nil)
	if !errors.Is(err, domain.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if b.refreshHits.Load() != 1 || b.dataHits.Load() != 2 {
		t.Fatalf("refresh=%d data=%d; want 1 and 2", b.refreshHits.Load(), b.dataHits.Load())
	}
}

func TestDo_AuthEndpointsAreNeverRenewed(t *testing.T) {
	b := newBackend()
	g, sess, _ := newGateway(t, b, "", Options{})

	err := g.Do(context.Background(), &Request{Method: http.MethodPost, Path: PathLogin,
		Body: domain.Credentials{Email: "a@uni.edu", Password: "wrong"}}, nil)
	if !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Message != "Invalid credentials" {
		t.Fatalf("detail not decoded: %+v", ae)
	}
	if b.refreshHits.Load() != 0 {
		t.Fatalf("login failure must not trigger a renewal")
	}
	if sess.Token() != "" {
		t.Fatalf("no token should be stored")
	}
}

func TestDo_OtherErrorsPropagateUnmodified(t *testing.T) {
	b := newBackend()
	g, _, _ := newGateway(t, b, "good", Options{})

	err := g.Do(context.Background(), get("/boom"), nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if ae.Status != http.StatusConflict || ae.Code != "conflict" || ae.Message != "already exists" || ae.RequestID != "srv-1" {
		t.Fatalf("decoded error unexpected: %+v", ae)
	}
	if errors.Is(err, domain.ErrAuthExpired) || errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("409 must not map to an auth error")
	}

	err = g.Do(context.Background(), get("/detail"), nil)
	if StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("status = %d", StatusOf(err))
	}
	if !errors.As(err, &ae) || ae.Message != "You cannot open a chat with yourself" {
		t.Fatalf("detail message not decoded: %+v", ae)
	}
	if b.refreshHits.Load() != 0 {
		t.Fatalf("non-401 errors must not renew")
	}
}

func TestDo_LateFailureReplaysWithRotatedToken(t *testing.T) {
	b := newBackend()
	g, sess, _ := newGateway(t, b, "stale", Options{})

	// The attempt was sent at generation gen; another caller renewed since.
	_, gen := sess.Snapshot()
	_ = sess.SetToken(context.Background(), "good")

	tok, source, err := g.recover(context.Background(), gen)
	if err != nil || tok != "good" || source != "rotated" {
		t.Fatalf("recover = %q %q %v", tok, source, err)
	}
	if b.refreshHits.Load() != 0 {
		t.Fatalf("rotated token must not trigger a renewal")
	}

	// Cleared since the attempt: fail without renewing.
	_, gen = sess.Snapshot()
	_ = sess.Clear(context.Background())
	if _, _, err := g.recover(context.Background(), gen); !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if b.refreshHits.Load() != 0 {
		t.Fatalf("cleared session must not trigger a renewal")
	}
}

func TestRenew_TimeoutCountsAsFailure(t *testing.T) {
	b := newBackend()
	b.renewDelay = 2 * time.Second
	g, sess, _ := newGateway(t, b, "stale", Options{RenewTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := g.Renew(context.Background())
	if !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected on timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("renewal timeout not enforced")
	}
	if sess.Token() != "" {
		t.Fatalf("token should be cleared after a timed-out renewal")
	}
}

func TestRenew_WaiterHonorsOwnContext(t *testing.T) {
	b := newBackend()
	b.releaseRenew = make(chan struct{})
	g, _, _ := newGateway(t, b, "stale", Options{})
	defer close(b.releaseRenew)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := g.Renew(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestIsAuthPath(t *testing.T) {
	cases := map[string]bool{
		"/auth/login":    true,
		"/auth/register": true,
		"/auth/refresh":  true,
		"/auth/refresh/": true,
		"/auth/me":       false,
		"/chat/threads":  false,
	}
	for p, want := range cases {
		if got := isAuthPath(p); got != want {
			t.Fatalf("isAuthPath(%q) = %v; want %v", p, got, want)
		}
	}
}

func TestAPIError_Format(t *testing.T) {
	e := &APIError{Status: 404, Method: "GET", Path: "/x"}
	if e.Error() != "GET /x: 404 Not Found" {
		t.Fatalf("Error() = %q", e.Error())
	}
	e.Code, e.Message = "not_found", "thread not found"
	if e.Error() != "GET /x: 404 thread not found (not_found)" {
		t.Fatalf("Error() = %q", e.Error())
	}
	if StatusOf(errors.New("plain")) != 0 {
		t.Fatalf("StatusOf plain error should be 0")
	}
}

// Compile-time guard: the gateway is the session renewer.
var _ session.Renewer = (*Gateway)(nil)
