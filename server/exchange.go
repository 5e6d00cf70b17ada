package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"deckauth/protocol"
	"deckauth/token"
)

// handleExchange serves the single exchange entry point. The checks run in a
// fixed order: preflight, credentials, method, provider error, redirect, code.
// CORS headers come from exchangeCORS.
func (a *App) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !a.Config.ProviderConfigured() {
		a.Logger.Error("exchange.not_configured", "provider", a.Config.Provider.Name)
		writeError(w, ErrConfiguration)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, ErrMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		a.Logger.Info("exchange.provider_error",
			"request_id", RequestIDFromContext(r.Context()),
			"error", providerErr,
			"description", q.Get("error_description"))
		writeJSONStatus(w, http.StatusBadRequest, protocol.Result{
			Error:   ErrProvider.Error(),
			Details: providerErr,
		})
		return
	}

	code := q.Get("code")
	if code == "" {
		target := a.Provider.AuthCodeURL(q.Get("state"))
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusFound)
		return
	}

	start := time.Now()
	tok, profile, err := a.exchange(r, code)
	if err != nil {
		a.Logger.Warn("exchange.failed",
			"request_id", RequestIDFromContext(r.Context()),
			"provider", a.Provider.Name(),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		a.renderFailure(w, err)
		return
	}

	a.Logger.Info("exchange.succeeded",
		"request_id", RequestIDFromContext(r.Context()),
		"provider", a.Provider.Name(),
		"user_id", profile.ID,
		"duration_ms", time.Since(start).Milliseconds())
	a.renderSuccess(w, tok, profile)
}

// exchange runs the provider legs and mints the session token. Neither the
// code nor the provider access token outlive this call.
func (a *App) exchange(r *http.Request, code string) (string, protocol.Profile, error) {
	profile, err := a.Provider.Exchange(r.Context(), code)
	if err != nil {
		return "", protocol.Profile{}, err
	}

	claims := token.ClaimsFor(profile, token.ExpiresAtFrom(a.now(), a.Config.Session.TTL))
	tok, err := a.Codec.Encode(claims)
	if err != nil {
		return "", protocol.Profile{}, fmt.Errorf("mint session token: %w", err)
	}
	return tok, profile, nil
}

// exchangeCORS sets the permissive CORS headers of the exchange endpoint.
// It sits outside the rate limiter so rejected requests stay readable
// cross-origin.
func exchangeCORS(next http.Handler) http.Handler {
	methods := strings.Join(DefaultCORSAllowedMethods, ", ")
	headers := strings.Join(DefaultCORSAllowedHeaders, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}
