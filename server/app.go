package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"deckauth/deck"
	"deckauth/token"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Provider IdentityProvider
	Codec    token.Codec
	// Agenda is nil when no deck database is configured.
	Agenda *deck.AgendaStore

	now func() time.Time
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	codec, err := BuildCodec(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init session codec: %w", err)
	}

	client := &http.Client{Timeout: cfg.Provider.Timeout}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Provider: BuildProvider(cfg, client, logger),
		Codec:    codec,
		now:      time.Now,
	}

	if !cfg.ProviderConfigured() {
		logger.Warn("provider credentials missing; exchange endpoint will answer 500",
			"provider", cfg.Provider.Name,
			"env", []string{"VK_APP_ID", "VK_APP_SECRET", "VK_REDIRECT_URI"})
	}

	if cfg.Deck.Database != "" {
		agenda, err := deck.OpenAgendaStore(cfg.Deck.Database)
		if err != nil {
			return nil, fmt.Errorf("init agenda: %w", err)
		}
		if err := agenda.Ping(ctx); err != nil {
			_ = agenda.Close()
			return nil, fmt.Errorf("ping agenda: %w", err)
		}
		app.Agenda = agenda
	}

	return app, nil
}

// Close releases the agenda database.
func (a *App) Close() error {
	if a.Agenda == nil {
		return nil
	}
	return a.Agenda.Close()
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":              "ok",
		"provider":            a.Provider.Name(),
		"provider_configured": a.Config.ProviderConfigured(),
	}
	if a.Agenda != nil {
		if err := a.Agenda.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["agenda"] = err.Error()
		}
	}
	writeJSONStatus(w, status, body)
}
