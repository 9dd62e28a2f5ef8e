// Package admin serves the read-only status endpoints: liveness, readiness,
// Prometheus metrics and a JSON snapshot of the change loop.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/watcher"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider is satisfied by *watcher.Watcher.
type StatusProvider interface {
	Status() watcher.Status
}

type Server struct {
	status  StatusProvider
	limiter *RateLimiter
	logger  *slog.Logger
}

type ServerOption func(*Server)

// WithRateLimiter replaces the default per-IP limiter.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(status StatusProvider, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		status: status,
		logger: logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(s.logger)
	}
	return s
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	watcher.Status
	Healthy bool `json:"healthy"`
}

func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /admin/v1/status", s.handleStatus)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/admin/", s.limiter.Wrap(api))
	return mux
}

// ListenAndServe blocks until ctx is done, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.limiter.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status server shutdown error", "error", err)
		}
	}()

	s.logger.Info("status server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealthz is liveness only; a long bootstrap is not a reason to restart.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Warn("failed to write health response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if !st.Healthy() {
		http.Error(w, string(st.State), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Warn("failed to write readiness response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	writeJSON(w, http.StatusOK, statusResponse{Status: st, Healthy: st.Healthy()})
}
