package main

import (
	"encoding/json"
	"net/http"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/fusion"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/platform/worker"
)

// engineView is the part of the fusion engine the HTTP endpoints read.
type engineView interface {
	Status() fusion.Status
	Ready() bool
}

type statusResponse struct {
	fusion.Status
	RPCEndpoints  map[string]bool `json:"rpc_endpoints,omitempty"`
	Notifications *worker.Stats   `json:"notifications,omitempty"`
}

type server struct {
	engine        engineView
	rpcEndpoints  func() map[string]bool
	notifications func() worker.Stats
	metrics       http.Handler
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready once both venues have produced a quote.
func (s *server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for quotes"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: s.engine.Status()}
	if s.rpcEndpoints != nil {
		resp.RPCEndpoints = s.rpcEndpoints()
	}
	if s.notifications != nil {
		stats := s.notifications()
		resp.Notifications = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
