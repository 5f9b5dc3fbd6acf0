// Package server provides the HTTP server for go-das
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-das/internal/beamform"
	"github.com/teslashibe/go-das/internal/config"
	"github.com/teslashibe/go-das/internal/doa"
	"github.com/teslashibe/go-das/internal/health"
)

// Server is the HTTP server for go-das
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	array     *beamform.Array
	tracker   *doa.Tracker
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string

	sweepRequests atomic.Uint64
	sweepErrors   atomic.Uint64
}

// New creates a new HTTP server. tracker and checker may be nil.
func New(cfg *config.Config, array *beamform.Array, tracker *doa.Tracker, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-das",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		BodyLimit:             cfg.Server.BodyLimit,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		array:     array,
		tracker:   tracker,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(tracker, logger),
		startTime: time.Now(),
		version:   version,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	// One-shot sweeps over uploaded signals
	api.Post("/sweep", s.sweepHandler)
	api.Post("/sweep/pcm", s.sweepPCMHandler)

	// Live tracking
	api.Get("/doa", s.doaHandler)
	api.Get("/doa/sweep", s.latestSweepHandler)
	api.Put("/doa/range", s.rangeHandler)
	api.Get("/doa/stream", s.wsHub.UpgradeHandler())

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.checker == nil {
		return c.JSON(health.Status{
			Status:        health.StatusOK,
			Version:       s.version,
			UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
			Components:    map[string]health.Check{},
		})
	}

	s.checker.Refresh()
	return c.JSON(s.checker.GetStatus())
}

// doaHandler returns the current DOA reading
func (s *Server) doaHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "DOA tracker not available",
		})
	}

	return c.JSON(s.tracker.GetLatest())
}

// latestSweepHandler returns the curve behind the current reading
func (s *Server) latestSweepHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "DOA tracker not available",
		})
	}

	points := s.tracker.LatestSweep()
	peak, _ := beamform.Peak(points)

	return c.JSON(SweepResponse{
		Range:  s.tracker.Range(),
		Points: points,
		Peak:   peak,
	})
}

// rangeHandler retunes the tracker's sweep range
func (s *Server) rangeHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "DOA tracker not available",
		})
	}

	var r beamform.Range
	if err := c.BodyParser(&r); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid range body: %v", err),
		})
	}

	if err := s.tracker.SetRange(r); err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(s.tracker.Range())
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	geom := s.array.Geometry()

	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
			"body_limit":       s.cfg.Server.BodyLimit,
		},
		"array": fiber.Map{
			"mic_spacing":    geom.MicSpacing,
			"mic_count":      geom.MicCount,
			"speed_of_sound": geom.SpeedOfSound,
			"sample_rate":    geom.SampleRate,
		},
		"sweep": fiber.Map{
			"start":   s.cfg.Sweep.Start,
			"stop":    s.cfg.Sweep.Stop,
			"step":    s.cfg.Sweep.Step,
			"workers": s.array.Workers(),
		},
		"source": fiber.Map{
			"type": s.cfg.Source.Type,
		},
		"uplink": fiber.Map{
			"enabled": s.cfg.Uplink.Enabled,
			"url":     s.cfg.Uplink.URL,
		},
	})
}

// statsHandler returns tracker statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not available",
		})
	}

	return c.JSON(s.tracker.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	var stats doa.TrackerStats
	var locked bool
	if s.tracker != nil {
		stats = s.tracker.Stats()
		_, _, locked = s.tracker.GetTarget()
	}

	metrics := fmt.Sprintf(`# HELP go_das_doa_angle_degrees Smoothed DOA angle in degrees
# TYPE go_das_doa_angle_degrees gauge
go_das_doa_angle_degrees %f

# HELP go_das_doa_contrast Peak to mean RMS ratio of the latest sweep
# TYPE go_das_doa_contrast gauge
go_das_doa_contrast %f

# HELP go_das_doa_confidence DOA confidence score
# TYPE go_das_doa_confidence gauge
go_das_doa_confidence %f

# HELP go_das_target_locked Whether the smoothed angle is confident enough to act on (1=locked)
# TYPE go_das_target_locked gauge
go_das_target_locked %d

# HELP go_das_poll_count Total DOA polls
# TYPE go_das_poll_count counter
go_das_poll_count %d

# HELP go_das_poll_errors Total DOA poll errors
# TYPE go_das_poll_errors counter
go_das_poll_errors %d

# HELP go_das_avg_latency_ms Average poll latency in milliseconds
# TYPE go_das_avg_latency_ms gauge
go_das_avg_latency_ms %f

# HELP go_das_source_healthy Frame source health (1=healthy, 0=unhealthy)
# TYPE go_das_source_healthy gauge
go_das_source_healthy %d

# HELP go_das_sweep_requests Total one-shot sweep requests
# TYPE go_das_sweep_requests counter
go_das_sweep_requests %d

# HELP go_das_sweep_errors Total rejected one-shot sweep requests
# TYPE go_das_sweep_errors counter
go_das_sweep_errors %d

# HELP go_das_uptime_seconds Server uptime in seconds
# TYPE go_das_uptime_seconds gauge
go_das_uptime_seconds %d

# HELP go_das_websocket_clients Current WebSocket client count
# TYPE go_das_websocket_clients gauge
go_das_websocket_clients %d
`,
		stats.CurrentAngle,
		stats.CurrentContrast,
		stats.CurrentConfidence,
		boolToInt(locked),
		stats.PollCount,
		stats.ErrorCount,
		stats.AvgLatencyMs,
		boolToInt(stats.SourceHealthy),
		s.sweepRequests.Load(),
		s.sweepErrors.Load(),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// errorStatus maps beamformer errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, beamform.ErrConfiguration):
		return fiber.StatusBadRequest
	case errors.Is(err, beamform.ErrDimensionMismatch), errors.Is(err, beamform.ErrNumeric):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
