package server

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"

	"deckauth/deck"
)

var errAgendaUnavailable = errors.New("agenda unavailable")

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (a *App) handleAgenda(w http.ResponseWriter, r *http.Request) {
	if a.Agenda == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"error": errAgendaUnavailable.Error()})
		return
	}
	items, err := a.Agenda.Items(r.Context())
	if err != nil {
		a.Logger.Error("deck.agenda_failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": errAgendaUnavailable.Error()})
		return
	}
	writeJSON(w, map[string]any{"items": items})
}

func (a *App) handleTitle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, deck.RandomTitle(newRand()))
}

type gradientResponse struct {
	deck.Gradient
	Variations []deck.Gradient `json:"variations,omitempty"`
	Custom     bool            `json:"custom,omitempty"`
	RequestID  string          `json:"request_id"`
}

func (a *App) handleGradient(w http.ResponseWriter, r *http.Request) {
	rng := newRand()
	writeJSON(w, gradientResponse{
		Gradient:   deck.PickGradient(rng, r.URL.Query().Get("theme")),
		Variations: deck.Variations(rng, 3),
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

type customGradientRequest struct {
	Colors    []string `json:"colors"`
	Direction string   `json:"direction"`
}

func (a *App) handleCustomGradient(w http.ResponseWriter, r *http.Request) {
	var req customGradientRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON in request body"})
		return
	}
	g, err := deck.CustomGradient(req.Colors, req.Direction)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "Need at least 2 colors for gradient"})
		return
	}
	writeJSON(w, gradientResponse{
		Gradient:  g,
		Custom:    true,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
