package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/broadcast"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/pscheid92/roomstream/internal/platform/config"
)

const readHeaderTimeout = 10 * time.Second

// streamRegistry is the part of broadcast.Registry the HTTP layer needs.
type streamRegistry interface {
	Register(sink broadcast.Sink, info broadcast.ConnectionInfo) (*broadcast.Connection, error)
	Unregister(id, reason string) bool
	IDs() []string
	Stats() domain.Stats
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	registry       streamRegistry
	webhookHandler echo.HandlerFunc
	limits         *StreamLimits

	promRegistry  *prometheus.Registry
	httpMetrics   *metrics.HTTPMetrics
	streamMetrics *metrics.StreamMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, clock clockwork.Clock, registry streamRegistry, webhookHandler echo.HandlerFunc, promRegistry *prometheus.Registry, streamMetrics *metrics.StreamMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Streams stay open for hours; only the header read is bounded.
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		registry:       registry,
		webhookHandler: webhookHandler,
		limits:         NewStreamLimits(clock, cfg.MaxStreamsPerIP, cfg.StreamConnectRate, cfg.StreamConnectBurst),
		promRegistry:   promRegistry,
		httpMetrics:    metrics.NewHTTPMetrics(promRegistry),
		streamMetrics:  streamMetrics,
		healthChecks:   healthChecks,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
