package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/handduel/go/internal/duel/session"
)

// StateProvider returns the current duel session view.
type StateProvider interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// Server is the local read-only status API.
type Server struct {
	provider StateProvider
	started  time.Time
	http     *http.Server
}

// InfoResponse is served by /info.
type InfoResponse struct {
	Service string `json:"service"`
	UserID  string `json:"user_id"`
	Uptime  string `json:"uptime"`
}

func New(addr string, provider StateProvider) *Server {
	s := &Server{provider: provider, started: time.Now()}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/api/duel/state", s.handleState)
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("status API starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.provider.Snapshot(r.Context())
	if err != nil {
		s.snapshotFailed(w, err)
		return
	}
	writeJSON(w, InfoResponse{
		Service: "handduel",
		UserID:  snap.Self.String(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

// handleState handles GET /api/duel/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.provider.Snapshot(r.Context())
	if err != nil {
		s.snapshotFailed(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) snapshotFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrStopped) {
		http.Error(w, "Session stopped", http.StatusServiceUnavailable)
		return
	}
	log.Error().Err(err).Msg("failed to get session snapshot")
	http.Error(w, "Failed to get session state", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
