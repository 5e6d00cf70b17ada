package server

import (
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
)

var allowLink = regexp.MustCompile(`id="allow" href="([^"]+)"`)

func TestDevProviderFlow(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Provider = ProviderConfig{Name: devProviderName}
	app := newTestApp(t, cfg)
	h := app.Routes()

	rec := do(t, h, http.MethodGet, "/?state=abc", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	consent := mustParse(t, rec.Header().Get("Location"))
	if consent.Path != "/dev/authorize" {
		t.Fatalf("redirected to %s", consent)
	}

	rec = do(t, h, http.MethodGet, consent.RequestURI(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consent status = %d", rec.Code)
	}
	m := allowLink.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no allow link in consent page:\n%s", rec.Body)
	}
	callback, err := url.Parse(html.UnescapeString(m[1]))
	if err != nil {
		t.Fatalf("parse allow link: %v", err)
	}
	if callback.Query().Get("state") != "abc" {
		t.Fatalf("state lost: %s", callback)
	}
	if !strings.HasPrefix(callback.Query().Get("code"), devCodePrefix) {
		t.Fatalf("unexpected code in %s", callback)
	}

	rec = do(t, h, http.MethodGet, callback.RequestURI(), nil)
	res := decodeResult(t, rec.Body.String())
	if !res.Success || res.Profile == nil || res.Profile.Name != "Dev User" {
		t.Fatalf("unexpected result %s", rec.Body)
	}
}

func TestDevAuthorizeHiddenOutsideDevProvider(t *testing.T) {
	app := newTestApp(t, testConfig(nil))
	if rec := do(t, app.Routes(), http.MethodGet, "/dev/authorize", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
