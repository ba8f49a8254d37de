package fakeapi

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-lostfound-client/internal/api"
	"github.com/tbourn/go-lostfound-client/internal/config"
	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
	"github.com/tbourn/go-lostfound-client/internal/realtime"
	"github.com/tbourn/go-lostfound-client/internal/repo"
	"github.com/tbourn/go-lostfound-client/internal/services"
	"github.com/tbourn/go-lostfound-client/internal/session"
)

// ---------- harness ----------

func newBackend(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := repo.OpenMemory("fakeapi_" + uuid.NewString())
	if err != nil {
		t.Fatalf("open backend db: %v", err)
	}
	srv, err := New(db, config.FakeAPIConfig{
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		GinMode:    "test",
		RateBurst:  1,
	}, "fakeapi-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Store.BcryptCost = bcrypt.MinCost
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub.Close()
		ts.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return srv, ts
}

// clientStack is everything a client process wires, bound to one local db.
type clientStack struct {
	db   *gorm.DB
	sess *session.Session
	gw   *gateway.Gateway
	auth *services.AuthService
	dir  *services.Directory
	hs   *services.CloseHandshake
	rt   *realtime.Client
}

func newClientDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenMemory("client_" + uuid.NewString())
	if err != nil {
		t.Fatalf("open client db: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate client db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newClientStack(t *testing.T, ts *httptest.Server, db *gorm.DB) *clientStack {
	t.Helper()
	ctx := context.Background()
	sess, err := session.New(ctx, repo.NewCredentialStore(db, "default"))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	jar, err := repo.NewCookieJar(ctx, db, "default")
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	gw, err := gateway.New(sess, gateway.Options{
		BaseURL:        ts.URL + APIBasePath,
		Jar:            jar,
		RequestTimeout: 5 * time.Second,
		RenewTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	auth := services.NewAuthService(api.AuthAPI{Doer: gw}, sess)
	auth.Cookies = jar
	dir := services.NewDirectory(api.ChatAPI{Doer: gw}, auth)
	hs := services.NewCloseHandshake(dir)
	rt, err := realtime.NewClient(realtime.Options{
		URL:            "ws" + strings.TrimPrefix(ts.URL, "http") + APIBasePath + "/ws",
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}, sess, auth, hs)
	if err != nil {
		t.Fatalf("realtime: %v", err)
	}
	t.Cleanup(rt.Leave)
	return &clientStack{db: db, sess: sess, gw: gw, auth: auth, dir: dir, hs: hs, rt: rt}
}

func register(t *testing.T, srv *Server, email string) int64 {
	t.Helper()
	u, err := srv.Store.CreateUser(context.Background(), domain.Registration{Name: "N", Surname: "S", Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasText(ch *realtime.Channel, text string) bool {
	for _, e := range ch.Log().Entries() {
		if e.Text == text && !e.Pending {
			return true
		}
	}
	return false
}

// ---------- tests ----------

func TestEndToEnd_LoginRenewChatClose(t *testing.T) {
	srv, ts := newBackend(t)
	ctx := context.Background()
	aliceID := register(t, srv, "alice@campus.test")
	bobID := register(t, srv, "bob@campus.test")
	item, err := srv.Store.CreateItem(ctx, bobID, domain.NewItem{Title: "Blue umbrella", Type: domain.ItemFound})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	alice := newClientStack(t, ts, newClientDB(t))
	bob := newClientStack(t, ts, newClientDB(t))
	if _, err := alice.auth.Login(ctx, "alice@campus.test", "wrong"); !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("bad password: %v", err)
	}
	if alice.sess.Authenticated() {
		t.Fatalf("rejected login must not store a token")
	}
	if id, err := alice.auth.Login(ctx, "Alice@Campus.test", "secret1"); err != nil || id.ID != aliceID {
		t.Fatalf("alice login = %+v, %v", id, err)
	}
	if _, err := bob.auth.Login(ctx, "bob@campus.test", "secret1"); err != nil {
		t.Fatalf("bob login: %v", err)
	}

	// Every access token dies; the next calls renew through the refresh cookie.
	oldToken := alice.sess.Token()
	if err := srv.Store.ExpireAccessTokens(ctx); err != nil {
		t.Fatalf("ExpireAccessTokens: %v", err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = alice.dir.ListThreads(ctx)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent call %d after expiry: %v", i, err)
		}
	}
	if tok := alice.sess.Token(); tok == "" || tok == oldToken {
		t.Fatalf("token not renewed: %q", tok)
	}

	conv, err := alice.dir.EnsureThread(ctx, item.ID, bobID)
	if err != nil {
		t.Fatalf("alice EnsureThread: %v", err)
	}
	again, err := bob.dir.EnsureThread(ctx, item.ID, aliceID)
	if err != nil || again.ID != conv.ID {
		t.Fatalf("bob EnsureThread = %d, %v; want %d", again.ID, err, conv.ID)
	}
	if conv.ItemTitle != "Blue umbrella" || conv.PeerID != bobID {
		t.Fatalf("conversation = %+v", conv)
	}
	if _, err := alice.dir.EnsureThread(ctx, item.ID, aliceID); !errors.Is(err, services.ErrSelfConversation) {
		t.Fatalf("self conversation: %v", err)
	}

	chA, err := alice.rt.Enter(ctx, conv.ID)
	if err != nil {
		t.Fatalf("alice Enter: %v", err)
	}
	chB, err := bob.rt.Enter(ctx, conv.ID)
	if err != nil {
		t.Fatalf("bob Enter: %v", err)
	}

	sent, err := chA.Send(ctx, "  is this yours?  ")
	if err != nil {
		t.Fatalf("alice Send: %v", err)
	}
	waitFor(t, "alice's echo", func() bool {
		e, ok := chA.Log().Lookup(sent.ClientKey)
		return ok && !e.Pending && e.ID != 0
	})
	waitFor(t, "bob receives", func() bool { return hasText(chB, "is this yours?") })
	if n := chA.Log().Len(); n != 1 {
		t.Fatalf("alice log has %d entries, want 1 (echo must reconcile, not append)", n)
	}

	if _, err := chB.Send(ctx, "yes, thanks"); err != nil {
		t.Fatalf("bob Send: %v", err)
	}
	waitFor(t, "alice receives reply", func() bool { return hasText(chA, "yes, thanks") })

	history, err := alice.dir.Messages(ctx, conv.ID, 0)
	if err != nil || len(history) != 2 || history[0].Text != "is this yours?" {
		t.Fatalf("REST history = %+v, %v", history, err)
	}

	// Alice asks to close: her sends are gated, bob sees the request.
	if err := alice.hs.Begin(conv.ID); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	st, err := alice.hs.Confirm(ctx, conv.ID)
	if err != nil || st != domain.CloseWaitingOnPeer {
		t.Fatalf("alice Confirm = %s, %v", st, err)
	}
	if _, err := chA.Send(ctx, "one more"); !domain.BlockedBy(err, domain.ReasonCloseRequested) {
		t.Fatalf("send while waiting on peer: %v", err)
	}
	if _, err := bob.dir.ListThreads(ctx); err != nil {
		t.Fatalf("bob refresh: %v", err)
	}
	if st := bob.hs.State(conv.ID); st != domain.ClosePeerRequested {
		t.Fatalf("bob state = %s", st)
	}
	if _, err := chB.Send(ctx, "ok, closing too"); err != nil {
		t.Fatalf("bob may still send: %v", err)
	}
	waitFor(t, "alice receives last message", func() bool { return hasText(chA, "ok, closing too") })

	if err := bob.hs.Begin(conv.ID); err != nil {
		t.Fatalf("bob Begin: %v", err)
	}
	if st, err := bob.hs.Confirm(ctx, conv.ID); err != nil || st != domain.CloseClosed {
		t.Fatalf("bob Confirm = %s, %v", st, err)
	}
	if _, err := chB.Send(ctx, "after close"); !domain.BlockedBy(err, domain.ReasonClosed) {
		t.Fatalf("send after close: %v", err)
	}
	if _, err := alice.dir.ListThreads(ctx); err != nil {
		t.Fatalf("alice refresh: %v", err)
	}
	if st := alice.hs.State(conv.ID); st != domain.CloseClosed {
		t.Fatalf("alice state after both closed = %s", st)
	}
}

func TestEndToEnd_RestoreAndLogout(t *testing.T) {
	srv, ts := newBackend(t)
	ctx := context.Background()
	register(t, srv, "carol@campus.test")

	db := newClientDB(t)
	first := newClientStack(t, ts, db)
	if _, err := first.auth.Login(ctx, "carol@campus.test", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// A new process on the same local state restores silently.
	second := newClientStack(t, ts, db)
	if !(&session.Resolver{Session: second.sess, Renewer: second.gw}).Restore(ctx) {
		t.Fatalf("restore from persisted cookie failed")
	}
	if !second.sess.Authenticated() {
		t.Fatalf("restored session not authenticated")
	}

	if err := second.auth.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if second.sess.Authenticated() {
		t.Fatalf("session still authenticated after logout")
	}

	third := newClientStack(t, ts, db)
	if (&session.Resolver{Session: third.sess, Renewer: third.gw}).Restore(ctx) {
		t.Fatalf("restore succeeded after logout")
	}
	if third.sess.Token() != "" {
		t.Fatalf("stale token kept after failed restore")
	}
	if _, err := third.dir.ListThreads(ctx); err == nil {
		t.Fatalf("anonymous call succeeded")
	}
}

func TestEndToEnd_RealtimeRejectsExpiredToken(t *testing.T) {
	srv, ts := newBackend(t)
	ctx := context.Background()
	a := register(t, srv, "dan@campus.test")
	b := register(t, srv, "eve@campus.test")
	it, _ := srv.Store.CreateItem(ctx, b, domain.NewItem{Title: "Keys", Type: domain.ItemFound})
	th, err := srv.Store.EnsureThread(ctx, it.ID, a, b)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}

	dan := newClientStack(t, ts, newClientDB(t))
	if _, err := dan.auth.Login(ctx, "dan@campus.test", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := srv.Store.ExpireAccessTokens(ctx); err != nil {
		t.Fatalf("ExpireAccessTokens: %v", err)
	}
	_, err = dan.rt.Enter(ctx, th.ID)
	if !errors.Is(err, domain.ErrConversationUnavailable) || !errors.Is(err, domain.ErrAuthExpired) {
		t.Fatalf("Enter with expired token: %v", err)
	}

	if _, err := dan.gw.Renew(ctx); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	ch, err := dan.rt.Enter(ctx, th.ID)
	if err != nil || ch.State() != realtime.StateJoined {
		t.Fatalf("Enter after renew: %v", err)
	}
}
