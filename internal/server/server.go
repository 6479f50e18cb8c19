// Package server exposes the monitoring pipeline over HTTP: a JSON
// control API, Prometheus metrics, and a websocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/monitor"
)

// Controller is the monitor surface the HTTP handlers drive.
type Controller interface {
	Status() monitor.Status
	Metrics() monitor.Metrics
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
	StartPolling()
	StopPolling()
	SetPollingInterval(d time.Duration) error
	PollingInterval() time.Duration
}

type Server struct {
	Router *chi.Mux
	Port   int

	controller Controller
	hub        *Hub
	logger     *slog.Logger
	http       *http.Server
}

func New(port int, controller Controller, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Router:     chi.NewRouter(),
		Port:       port,
		controller: controller,
		hub:        hub,
		logger:     logger,
	}

	r := s.Router
	r.Use(RequestIDMiddleware(logger))
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "chainwatch")
	})

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(30 * time.Second))

		r.Get("/healthz", s.handleHealthz)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/events", s.handleEvents)
			r.Post("/control/start", s.handleStart)
			r.Post("/control/stop", s.handleStop)
			r.Put("/config/polling-interval", s.handleSetPollingInterval)
		})
	})

	// The stream route stays outside the timeout group; connections are
	// long-lived.
	if hub != nil {
		r.Get("/api/events/stream", hub.ServeHTTP)
	}

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
