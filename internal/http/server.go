// Package http provides the skillloop HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillloop/internal/review"
	"github.com/fyrsmithlabs/skillloop/internal/skills"
	"github.com/fyrsmithlabs/skillloop/internal/telemetry"
)

// Server provides HTTP endpoints for skillloop.
type Server struct {
	echo     *echo.Echo
	store    skills.Store
	gate     *skills.Gate
	reviews  review.Desk
	health   func() telemetry.HealthStatus
	gatherer prometheus.Gatherer
	metrics  *HTTPMetrics
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Option configures a Server.
type Option func(*Server)

// WithGate sets the promotion gate. Without one a gate over the store is used.
func WithGate(g *skills.Gate) Option {
	return func(s *Server) { s.gate = g }
}

// WithReviews enables the reviewer endpoints. Pass the NATS bus to forward
// submitted results to loops in other processes, or a bare inbox otherwise.
func WithReviews(d review.Desk) Option {
	return func(s *Server) { s.reviews = d }
}

// WithTelemetryHealth reports telemetry state on /health.
func WithTelemetryHealth(fn func() telemetry.HealthStatus) Option {
	return func(s *Server) { s.health = fn }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHTTPMetrics records request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(store skills.Store, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	s := &Server{
		store:    store,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = skills.NewGate(store, skills.WithGateLogger(logger))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(requestLogger(logger))

	s.echo = e
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/skills", s.handleSearchSkills)
	v1.GET("/skills/pending", s.handlePendingSkills)
	v1.GET("/skills/:id", s.handleGetSkill)
	v1.GET("/skills/:id/effectiveness", s.handleEffectiveness)
	v1.POST("/skills/:id/promote", s.handlePromote)
	v1.GET("/stats", s.handleStats)
	v1.GET("/feedback/:session_id", s.handleFeedback)

	if s.reviews != nil {
		v1.GET("/reviews", s.handlePendingReviews)
		v1.GET("/reviews/:signal_id", s.handleGetReview)
		v1.POST("/reviews/:signal_id", s.handleSubmitReview)
	}
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth reports ok, or degraded when telemetry export is failing.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		h := s.health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// storeError maps store and gate errors onto HTTP errors.
func (s *Server) storeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, skills.ErrSkillNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "skill not found")
	case errors.Is(err, skills.ErrInvalidSkill):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, skills.ErrPromotionRejected):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, skills.ErrStoreClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store closed")
	}
	s.logger.Error(op+" failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

// requestLogger logs one line per request once the error handler has
// written the response, so the logged status is the one the client saw.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("http request failed", fields...)
			} else {
				logger.Info("http request", fields...)
			}
			return nil
		}
	}
}
