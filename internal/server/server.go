// Package server exposes health and state endpoints while the daemon runs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/models"
	"github.com/evescope/activity-ingest/internal/state"
)

// Server handles HTTP requests in daemon mode.
type Server struct {
	store  state.Store
	server *http.Server
}

// NewServer creates the daemon status server.
func NewServer(cfg config.ServerConfig, store state.Store) *Server {
	s := &Server{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/state", s.handleState)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleState serves the persisted snapshot so operators can inspect
// validators and the current gate without touching the state file.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Load(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := struct {
		Endpoints   map[string]models.EndpointState `json:"endpoints"`
		Maintenance models.EndpointState            `json:"maintenance"`
	}{
		Endpoints:   make(map[string]models.EndpointState, len(snap.Endpoints)),
		Maintenance: snap.Maintenance,
	}
	for d, es := range snap.Endpoints {
		out.Endpoints[string(d)] = es
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
