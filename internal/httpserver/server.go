// apps/go-server/internal/httpserver/server.go
//
// HTTP server wiring for the For Sale backend.
// Responsibilities:
//   - Router + middleware (request logging, request IDs, CORS, panic recovery).
//   - Public endpoints: "/", "/health", "/debug/games".
//   - Game info and player statistics: GET /games/{id}, GET /stats/{username}.
//   - Realtime session gateway: GET /ws (websocket).
//
// Notes:
//   - CORS is origin-aware and credentials-enabled for the single configured
//     client origin; the websocket upgrader accepts the same origin.
//   - REST handlers run under a timeout; the websocket route does not, since
//     its request lives as long as the connection.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/forsale/apps/go-server/internal/hub"
	"github.com/robalobadob/forsale/apps/go-server/internal/stats"
)

// StatsReader answers per-username statistics queries.
type StatsReader interface {
	Player(ctx context.Context, username string) (stats.PlayerStats, error)
}

// Server bundles the router, the game hub and the stats reader.
type Server struct {
	r        *chi.Mux
	hub      *hub.Hub
	stats    StatsReader // nil when running without a database
	origin   string
	upgrader websocket.Upgrader
	srv      *http.Server
}

// New constructs a Server, installs middleware, and registers routes.
func New(h *hub.Hub, st StatsReader, clientOrigin string) *Server {
	s := &Server{r: chi.NewRouter(), hub: h, stats: st, origin: clientOrigin}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	// --- middleware ---
	s.r.Use(chimw.RealIP)                                  // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(hlog.NewHandler(log.Logger))                   // request-scoped zerolog logger
	s.r.Use(hlog.RequestIDHandler("reqId", "X-Request-Id")) // add X-Request-Id
	s.r.Use(hlog.AccessHandler(accessLog))                 // one line per request
	s.r.Use(chimw.Recoverer)                               // recover from panics
	s.r.Use(s.cors)                                        // credentials-friendly CORS

	// --- realtime ---
	s.r.Get("/ws", s.handleWS)

	// --- REST ---
	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses
		s.mountREST(r)
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	s.srv = &http.Server{Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler exposes the router (useful for tests).
func (s *Server) Handler() http.Handler { return s.r }

// Start serves HTTP on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for REST handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts non-browser clients (no Origin), the configured client
// origin, and same-host pages.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == s.origin {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("request")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
