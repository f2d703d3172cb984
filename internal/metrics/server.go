package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports one component's health. Name identifies the component
// in the /healthz response.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server exposes /metrics and /healthz.
type Server struct {
	server *http.Server
	checks []HealthCheck
	logger *slog.Logger
}

// NewServer creates the metrics server.
func NewServer(port int, path string, checks []HealthCheck, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{checks: checks, logger: logger}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start begins serving. Returns immediately.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	s.logger.Info("metrics server started", "addr", s.server.Addr)
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			components[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			components[check.Name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":     http.StatusText(status),
		"components": components,
	})
}
