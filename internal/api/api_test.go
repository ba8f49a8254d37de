package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tbourn/go-lostfound-client/internal/domain"
	"github.com/tbourn/go-lostfound-client/internal/gateway"
)

// ----- Fake doer -----

type fakeDoer struct {
	reqs []*gateway.Request
	resp string // JSON decoded into out
	err  error
}

func (f *fakeDoer) Do(_ context.Context, req *gateway.Request, out any) error {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.err
	}
	if out != nil && f.resp != "" {
		return json.Unmarshal([]byte(f.resp), out)
	}
	return nil
}

func (f *fakeDoer) last(t *testing.T) *gateway.Request {
	t.Helper()
	if len(f.reqs) == 0 {
		t.Fatalf("no request sent")
	}
	return f.reqs[len(f.reqs)-1]
}

// ----- Chat -----

func TestChatAPI_Paths(t *testing.T) {
	ctx := context.Background()
	d := &fakeDoer{resp: `{"id":11,"item_id":5,"peer_id":9}`}
	c := ChatAPI{Doer: d}

	th, err := c.EnsureThread(ctx, 5, 9)
	if err != nil || th.ID != 11 {
		t.Fatalf("EnsureThread = %+v, %v", th, err)
	}
	r := d.last(t)
	if r.Method != http.MethodPost || r.Path != "/chat/thread" {
		t.Fatalf("EnsureThread request = %s %s", r.Method, r.Path)
	}
	if b, ok := r.Body.(ensureThreadBody); !ok || b.ItemID != 5 || b.PeerID != 9 {
		t.Fatalf("EnsureThread body = %#v", r.Body)
	}

	if err := c.CloseThread(ctx, 11); err != nil {
		t.Fatalf("CloseThread: %v", err)
	}
	r = d.last(t)
	if r.Path != "/chat/threads/11/close" || r.Route != "/chat/threads/{id}/close" {
		t.Fatalf("CloseThread request = %s (%s)", r.Path, r.Route)
	}

	d.resp = `[{"id":1,"thread_id":11,"sender_id":9,"text":"hi"}]`
	msgs, err := c.Messages(ctx, 11, 50)
	if err != nil || len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("Messages = %+v, %v", msgs, err)
	}
	if r = d.last(t); r.Query.Get("limit") != "50" {
		t.Fatalf("limit query = %q", r.Query.Get("limit"))
	}

	d.resp = `[{"id":11,"close_requested_by_me":true}]`
	ths, err := c.ListThreads(ctx)
	if err != nil || len(ths) != 1 || !ths[0].CloseRequestedBySelf {
		t.Fatalf("ListThreads = %+v, %v", ths, err)
	}
}

func TestChatAPI_ErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	c := ChatAPI{Doer: &fakeDoer{err: boom}}
	if _, err := c.ListThreads(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

// ----- Auth -----

func TestAuthAPI_Paths(t *testing.T) {
	ctx := context.Background()
	d := &fakeDoer{resp: `{"access_token":"t","token_type":"bearer"}`}
	a := AuthAPI{Doer: d}

	tok, err := a.Login(ctx, domain.Credentials{Email: "a@uni.edu", Password: "pw"})
	if err != nil || tok.AccessToken != "t" {
		t.Fatalf("Login = %+v, %v", tok, err)
	}
	if d.last(t).Path != gateway.PathLogin {
		t.Fatalf("Login path = %q", d.last(t).Path)
	}
	_ = a.Logout(ctx)
	if d.last(t).Path != "/auth/logout" {
		t.Fatalf("Logout path = %q", d.last(t).Path)
	}
	d.resp = `{"id":3,"email":"a@uni.edu"}`
	me, err := a.Me(ctx)
	if err != nil || me.ID != 3 {
		t.Fatalf("Me = %+v, %v", me, err)
	}
	_, _ = a.Register(ctx, domain.Registration{Email: "b@uni.edu"})
	if d.last(t).Path != gateway.PathRegister {
		t.Fatalf("Register path = %q", d.last(t).Path)
	}
}

// ----- Items / similar -----

func TestItemsAPI_SimilarDistinguishesNoMatchFromUnauthorized(t *testing.T) {
	ctx := context.Background()

	empty := ItemsAPI{Doer: &fakeDoer{resp: `{"matches":[]}`}}
	ms, err := empty.Similar(ctx, 4, 6)
	if err != nil || ms != nil {
		t.Fatalf("no match should be (nil, nil), got %+v, %v", ms, err)
	}

	unauth := ItemsAPI{Doer: &fakeDoer{err: fmt.Errorf("%w: %w", domain.ErrAuthRejected,
		&gateway.APIError{Status: http.StatusUnauthorized})}}
	if _, err := unauth.Similar(ctx, 4, 6); !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}

	forbidden := ItemsAPI{Doer: &fakeDoer{err: &gateway.APIError{Status: http.StatusForbidden}}}
	if _, err := forbidden.Similar(ctx, 4, 6); !errors.Is(err, domain.ErrAuthRejected) {
		t.Fatalf("403 should surface as ErrAuthRejected, got %v", err)
	}

	d := &fakeDoer{resp: `{"matches":[{"item":{"id":2,"title":"AirPods"},"score":0.8},{"item":{"id":3},"score":0.1}]}`}
	ms, err = ItemsAPI{Doer: d}.Similar(ctx, 4, 6)
	if err != nil || len(ms) != 2 {
		t.Fatalf("Similar = %+v, %v", ms, err)
	}
	if r := d.last(t); r.Path != "/items/4/similar" || r.Query.Get("limit") != "6" {
		t.Fatalf("Similar request = %s?%s", r.Path, r.Query.Encode())
	}
	if strong := StrongMatches(ms, 0.32); len(strong) != 1 || strong[0].Item.ID != 2 {
		t.Fatalf("StrongMatches = %+v", strong)
	}
}

func TestItemsAPI_ListAndCreate(t *testing.T) {
	ctx := context.Background()
	d := &fakeDoer{resp: `[{"id":1,"title":"Keys","type":"lost","status":"OPEN"}]`}
	items, err := ItemsAPI{Doer: d}.List(ctx)
	if err != nil || len(items) != 1 || items[0].Type != domain.ItemLost {
		t.Fatalf("List = %+v, %v", items, err)
	}
	d.resp = `{"id":2,"title":"Umbrella","type":"found","status":"OPEN"}`
	it, err := ItemsAPI{Doer: d}.Create(ctx, domain.NewItem{Title: "Umbrella", Type: domain.ItemFound})
	if err != nil || it.ID != 2 || d.last(t).Method != http.MethodPost {
		t.Fatalf("Create = %+v, %v", it, err)
	}
}

func TestResolveMediaURL(t *testing.T) {
	cases := map[string]struct{ origin, raw, want string }{
		"empty":          {"http://localhost:8000", "", ""},
		"absolute http":  {"http://localhost:8000", "http://cdn/x.png", "http://cdn/x.png"},
		"absolute https": {"http://localhost:8000", "HTTPS://cdn/x.png", "HTTPS://cdn/x.png"},
		"data url":       {"http://localhost:8000", "data:image/png;base64,AA", "data:image/png;base64,AA"},
		"relative":       {"http://localhost:8000", "/media/1.jpg", "http://localhost:8000/media/1.jpg"},
		"no slash":       {"http://localhost:8000/", "media/1.jpg", "http://localhost:8000/media/1.jpg"},
		"scheme-less":    {"https://lf.edu", "//cdn/x.png", "https://cdn/x.png"},
	}
	for name, tc := range cases {
		if got := ResolveMediaURL(tc.origin, tc.raw); got != tc.want {
			t.Fatalf("%s: ResolveMediaURL(%q, %q) = %q; want %q", name, tc.origin, tc.raw, got, tc.want)
		}
	}
}
