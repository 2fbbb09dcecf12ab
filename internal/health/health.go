// Package health serves the liveness, stats and Prometheus endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visiona/canlogd/internal/pipeline"
)

// Status is the /health response body.
type Status struct {
	Status        string `json:"status"` // "healthy" or "degraded"
	UptimeSeconds int64  `json:"uptime_seconds"`
	Degraded      bool   `json:"degraded"`
	SessionID     string `json:"session_id"`
	Interface     string `json:"interface"`
}

// Server exposes pipeline state over HTTP.
type Server struct {
	srv       *http.Server
	pl        *pipeline.Pipeline
	sessionID string
	iface     string
}

// New builds the server; reg carries the pipeline's registered collectors.
func New(addr string, pl *pipeline.Pipeline, reg *prometheus.Registry, sessionID, iface string) *Server {
	s := &Server{pl: pl, sessionID: sessionID, iface: iface}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start listens in the background. Listen errors other than graceful
// shutdown are logged, not fatal: the pipeline outlives its health surface.
func (s *Server) Start() {
	go func() {
		slog.Info("health server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Status:        "healthy",
		UptimeSeconds: int64(s.pl.Uptime().Seconds()),
		Degraded:      s.pl.Degraded(),
		SessionID:     s.sessionID,
		Interface:     s.iface,
	}
	if st.Degraded {
		st.Status = "degraded"
	}
	writeJSON(w, st)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pl.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health response encode failed", "error", err)
	}
}
