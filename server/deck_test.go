package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"deckauth/deck"
)

func newDeckApp(t *testing.T) *App {
	t.Helper()
	cfg := testConfig(nil)
	cfg.Deck.Database = filepath.Join(t.TempDir(), "deck.db")
	return newTestApp(t, cfg)
}

func TestAgendaRoute(t *testing.T) {
	app := newDeckApp(t)

	rec := do(t, app.Routes(), http.MethodGet, "/deck/agenda", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Items []deck.AgendaItem `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 4 || body.Items[0].Number != "01" || body.Items[3].SortOrder != 4 {
		t.Fatalf("unexpected agenda %+v", body.Items)
	}
}

func TestAgendaRouteWithoutDatabase(t *testing.T) {
	app := newTestApp(t, testConfig(nil))
	if rec := do(t, app.Routes(), http.MethodGet, "/deck/agenda", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTitleRoute(t *testing.T) {
	app := newTestApp(t, testConfig(nil))
	var title deck.Title
	rec := do(t, app.Routes(), http.MethodGet, "/deck/title", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &title); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if title.Title == "" || title.Subtitle == "" {
		t.Fatalf("empty title %+v", title)
	}
}

func TestGradientRoutes(t *testing.T) {
	app := newTestApp(t, testConfig(nil))
	h := app.Routes()

	rec := do(t, h, http.MethodGet, "/deck/gradient?theme=warm", nil)
	var got gradientResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Theme != "warm" || len(got.Variations) != 3 || got.RequestID == "" {
		t.Fatalf("unexpected gradient %s", rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/deck/gradient", strings.NewReader(`{"colors":["#000","#fff"],"direction":"45deg"}`))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"gradient":"linear-gradient(45deg, #000, #fff)"`) {
		t.Fatalf("custom gradient: %d %s", rec.Code, rec.Body)
	}

	for _, body := range []string{`{"colors":["#000"]}`, `{bad`} {
		if rec := do(t, h, http.MethodPost, "/deck/gradient", strings.NewReader(body)); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestDeckRoutesUseOriginAllowList(t *testing.T) {
	app := newTestApp(t, testConfig(nil))
	h := app.Routes()

	for origin, want := range map[string]string{
		testAppOrigin:         testAppOrigin,
		"http://evil.example": "",
		"":                    "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/deck/title", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %q: allow-origin = %q, want %q", origin, got, want)
		}
	}
}

func TestHealthz(t *testing.T) {
	app := newDeckApp(t)
	rec := do(t, app.Routes(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["provider"] != "vk" || body["provider_configured"] != true {
		t.Fatalf("unexpected health %v", body)
	}
}
