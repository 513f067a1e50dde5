// Package server runs the HTTP server exposing metrics, health probes and
// the read-only ledger reports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/handlers"
	"github.com/n3tuk/time-locked-savings/internal/health"
	"github.com/n3tuk/time-locked-savings/internal/metrics"
	"github.com/n3tuk/time-locked-savings/internal/middleware"
)

// Options configures the server.
type Options struct {
	Host string
	Port int
}

// Server serves /metrics, /healthz/* and /api/v1/* on a single listener.
type Server struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	health       *health.Manager
	httpServer   *http.Server
	shutdownChan chan struct{}
}

// New creates a server. reports may be nil, in which case the report API
// is not mounted.
func New(opts Options, logger *zap.Logger, m *metrics.Metrics, hm *health.Manager, reports *handlers.ReportHandlers) *Server {
	s := &Server{
		logger:       logger,
		metrics:      m,
		health:       hm,
		shutdownChan: make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port)),
		Handler:      s.Router(reports),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Router builds the chi router.
func (s *Server) Router(reports *handlers.ReportHandlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.Metrics(s.metrics))

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz/live", s.handleLive)
	r.Get("/healthz/ready", s.handleReady)

	if reports != nil {
		r.Route("/api/v1", reports.Routes)
	}

	return r
}

// Start starts listening in the background. It returns an error when the
// listener cannot be bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	go s.updateUptime()
	return nil
}

// updateUptime updates the uptime and runtime metrics every second.
func (s *Server) updateUptime() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.metrics.AppUptimeSeconds.Add(1)
			s.metrics.UpdateRuntimeMetrics()
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown marks the service as not ready and stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down metrics server")

	s.health.SetShuttingDown(true)
	close(s.shutdownChan)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown error: %w", err)
	}
	return nil
}
