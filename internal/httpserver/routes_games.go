// apps/go-server/internal/httpserver/routes_games.go
//
// Read-only REST endpoints.
// Responsibilities:
//   - "/" and "/health" diagnostics.
//   - GET /games/{id}: public lobby info (no cards), id is case-insensitive.
//   - GET /stats/{username}: aggregate results of finished games.
//   - GET /debug/games: number of games with a live actor.

package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/hub"
)

func (s *Server) mountREST(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":   "forsale-go",
			"endpoints": []string{"/health", "GET /ws", "GET /games/{id}", "GET /stats/{username}", "GET /debug/games"},
		})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/games/{id}", s.handleGameInfo)
	r.Get("/stats/{username}", s.handleStats)
	r.Get("/debug/games", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"live": s.hub.LiveGames()})
	})
}

// handleGameInfo returns the public card for a game.
func (s *Server) handleGameInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.hub.Info(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, hub.ErrGameNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "game_not_found"})
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("game info")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

// handleStats returns statistics for one username.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats_disabled"})
		return
	}
	name, err := game.NormalizeUsername(chi.URLParam(r, "username"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_username"})
		return
	}
	st, err := s.stats.Player(r.Context(), name)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("username", name).Msg("player stats")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
