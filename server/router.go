package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router: the exchange endpoint at "/", the dev
// consent page, health and the deck content routes.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/healthz", a.handleHealth)

	// Every method reaches the handler so it can answer preflight and 405
	// in its own order.
	r.With(exchangeCORS, RateLimitMiddleware(a.Config.Server.RateLimit, a.Config.Server.TrustProxyHeaders)).
		HandleFunc("/", a.handleExchange)

	if a.Config.Server.DevMode {
		r.Get("/dev/authorize", a.handleDevAuthorize)
	}

	r.Route("/deck", func(r chi.Router) {
		r.Use(CORSMiddleware(a.Config.CORSOrigins()))
		r.Get("/agenda", a.handleAgenda)
		r.Get("/title", a.handleTitle)
		r.Get("/gradient", a.handleGradient)
		r.Post("/gradient", a.handleCustomGradient)
	})

	return r
}
