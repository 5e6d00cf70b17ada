package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testClientID    = "51234"
	testSecret      = "vk-secret"
	testRedirectURI = "https://deck.example.com/auth/callback"
	testAppOrigin   = "http://app.example"
)

var testNow = time.UnixMilli(1_700_000_000_000)

// fakeVK plays the provider's token and API endpoints.
type fakeVK struct {
	srv *httptest.Server

	mu        sync.Mutex
	tokenBody string
	usersBody string
	tokenForm url.Values
	usersURL  *url.URL
	delay     time.Duration

	tokenCalls atomic.Int32
	usersCalls atomic.Int32
}

func newFakeVK(t *testing.T) *fakeVK {
	t.Helper()
	f := &fakeVK{
		tokenBody: `{"access_token":"tok1","expires_in":86400,"user_id":42}`,
		usersBody: `{"response":[{"id":42,"first_name":"A","last_name":"B","photo_100":"http://x/p.jpg","screen_name":"ab"}]}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.tokenForm = r.Form
		body, delay := f.tokenBody, f.delay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/method/users.get", func(w http.ResponseWriter, r *http.Request) {
		f.usersCalls.Add(1)
		f.mu.Lock()
		f.usersURL = r.URL
		body := f.usersBody
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVK) set(tokenBody, usersBody string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tokenBody != "" {
		f.tokenBody = tokenBody
	}
	if usersBody != "" {
		f.usersBody = usersBody
	}
}

func testConfig(vk *fakeVK) Config {
	cfg := DefaultConfig()
	cfg.Server.DevMode = true
	cfg.Server.AppOrigin = testAppOrigin
	cfg.Provider.ClientID = testClientID
	cfg.Provider.ClientSecret = testSecret
	cfg.Provider.RedirectURI = testRedirectURI
	cfg.Provider.AuthURL = "https://oauth.vk.com/authorize"
	if vk != nil {
		cfg.Provider.TokenURL = vk.srv.URL + "/access_token"
		cfg.Provider.APIURL = vk.srv.URL + "/method"
	}
	cfg.Deck.Database = ""
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.Deck.Database == "deck.db" {
		cfg.Deck.Database = filepath.Join(t.TempDir(), "deck.db")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	app, err := NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	app.now = func() time.Time { return testNow }
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
