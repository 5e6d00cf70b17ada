package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
)

func TestVKProviderAuthCodeURL(t *testing.T) {
	cfg := testConfig(nil)
	p := NewVKProvider(cfg.Provider, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	u, err := url.Parse(p.AuthCodeURL("st"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("display") != "popup" || q.Get("state") != "st" || q.Get("client_id") != testClientID {
		t.Fatalf("unexpected authorize query %v", q)
	}
	if p.Name() != "vk" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestVKProviderErrorsAreClassified(t *testing.T) {
	vk := newFakeVK(t)
	cfg := testConfig(vk)
	p := NewVKProvider(cfg.Provider, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	vk.set(`{"expires_in":0}`, "")
	if _, err := p.Exchange(context.Background(), "abc"); !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("expected ErrTokenExchange, got %v", err)
	}

	vk.set(`{"access_token":"tok1"}`, `{"response":[]}`)
	if _, err := p.Exchange(context.Background(), "abc"); !errors.Is(err, ErrProfileFetch) {
		t.Fatalf("expected ErrProfileFetch, got %v", err)
	}
}

func TestVKProviderTrimsMissingLastName(t *testing.T) {
	vk := newFakeVK(t)
	vk.set("", `{"response":[{"id":7,"first_name":"Solo"}]}`)
	cfg := testConfig(vk)
	p := NewVKProvider(cfg.Provider, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	profile, err := p.Exchange(context.Background(), "abc")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if profile.Name != "Solo" || profile.ID != 7 {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestRedactToken(t *testing.T) {
	err := &url.Error{Op: "Get", URL: "https://api.vk.com/method/users.get?access_token=se%2Fcret", Err: errors.New("boom")}
	got := redactToken(err, "se/cret").Error()
	if strings.Contains(got, "se%2Fcret") {
		t.Fatalf("token leaked: %s", got)
	}
	plain := errors.New("other")
	if redactToken(plain, "x") != plain {
		t.Fatalf("non-url errors pass through")
	}
}

func TestDevProviderExchange(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Provider.Name = devProviderName
	p := NewDevProvider(cfg)

	if _, err := p.Exchange(context.Background(), "abc"); !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("expected foreign code to fail, got %v", err)
	}
	profile, err := p.Exchange(context.Background(), devCodePrefix+"x")
	if err != nil || profile.Name != "Dev User" {
		t.Fatalf("unexpected dev exchange %+v %v", profile, err)
	}
	if got := p.AuthCodeURL("s 1"); got != "http://127.0.0.1:8080/dev/authorize?state=s+1" {
		t.Fatalf("authorize url = %q", got)
	}
}
