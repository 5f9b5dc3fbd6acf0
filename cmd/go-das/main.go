// go-das: delay-and-sum direction finding daemon for linear microphone arrays
// Sweeps steering angles over captured frames and serves the resulting DOA
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-das/internal/beamform"
	"github.com/teslashibe/go-das/internal/config"
	"github.com/teslashibe/go-das/internal/doa"
	"github.com/teslashibe/go-das/internal/health"
	"github.com/teslashibe/go-das/internal/pcm"
	"github.com/teslashibe/go-das/internal/server"
	"github.com/teslashibe/go-das/internal/synth"
	"github.com/teslashibe/go-das/internal/uplink"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-das/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use a moving synthetic source (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-das %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-das",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	array, err := beamform.NewArray(cfg.Geometry(), beamform.Options{
		Workers: cfg.Sweep.Workers,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("invalid array geometry", "error", err)
		os.Exit(1)
	}

	logger.Info("array ready", "array", array.String(), "workers", array.Workers())

	source, err := newSource(cfg, array)
	if err != nil {
		logger.Error("failed to open frame source", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	logger.Info("frame source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
	)

	tracker := doa.NewTracker(source, array, cfg.TrackerConfig(), logger)

	go func() {
		if err := tracker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("tracker error", "error", err)
		}
	}()

	checker := health.NewChecker(version)
	checker.Register("source", func() (bool, string) {
		return source.Healthy(), source.Name()
	})

	// Optional collector uplink
	var link *uplink.Client
	if cfg.Uplink.Enabled {
		link = uplink.NewClient(cfg.UplinkConfig(), logger)
		link.OnRange(tracker.SetRange)

		if err := link.Connect(ctx); err != nil {
			logger.Error("uplink error", "error", err)
			os.Exit(1)
		}
		go link.Forward(ctx, tracker)

		checker.Register("uplink", func() (bool, string) {
			if link.IsConnected() {
				return true, cfg.Uplink.URL
			}
			return false, "disconnected"
		})
	}

	go checker.Watch(ctx, 5*time.Second)

	srv := server.New(cfg, array, tracker, checker, logger, version)

	go srv.WSHub().Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> uplink -> tracker -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	if link != nil {
		link.Close()
	}

	logger.Info("stopping tracker...")
	tracker.Stop()

	logger.Info("go-das stopped")
}

func newSource(cfg *config.Config, array *beamform.Array) (doa.Source, error) {
	if !*useMock && cfg.Source.Type == config.SourcePCM {
		s, err := pcm.Open(cfg.Source.Path, array.Geometry().MicCount, cfg.Source.FrameSamples)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	sc := cfg.SynthConfig()
	if *useMock {
		sc.Wave = true
	}
	s, err := synth.NewSource(array, sc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🎙  go-das v" + version)
	fmt.Printf("   %d-mic array, %.3f m spacing, sweep %.1f..%.1f step %.2f\n",
		cfg.Array.MicCount, cfg.Array.MicSpacing, cfg.Sweep.Start, cfg.Sweep.Stop, cfg.Sweep.Step)
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health           - Health check")
	fmt.Println("   GET  /api/doa          - Current DOA reading")
	fmt.Println("   GET  /api/doa/sweep    - Latest angle/power curve")
	fmt.Println("   PUT  /api/doa/range    - Retune the sweep range")
	fmt.Println("   WS   /api/doa/stream   - Real-time DOA stream")
	fmt.Println("   POST /api/sweep        - Sweep a JSON signal matrix")
	fmt.Println("   POST /api/sweep/pcm    - Sweep raw s16le PCM")
	fmt.Println("   GET  /api/stats        - Tracker statistics")
	fmt.Println("   GET  /metrics          - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
