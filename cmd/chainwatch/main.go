package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cultivate-labs/chainwatch/internal/config"
	"github.com/cultivate-labs/chainwatch/internal/monitor"
	"github.com/cultivate-labs/chainwatch/internal/server"
	"github.com/cultivate-labs/chainwatch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("chainwatch", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if missing := cfg.MissingCritical(); len(missing) > 0 {
		logger.Warn("running degraded: missing critical settings",
			slog.String("missing", strings.Join(missing, ", ")))
	}

	hub := server.NewHub(logger)

	mon, err := monitor.New(cfg,
		monitor.WithLogger(logger),
		monitor.WithOnDispatch(hub.Publish),
	)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	srv := server.New(cfg.Server.Port, mon, hub, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()

	// Hot-reload: only cadence settings apply live; everything else
	// needs a restart.
	if _, statErr := os.Stat(*configPath); statErr == nil {
		if err := config.Watch(ctx, *configPath, logger, mon.ApplyConfig); err != nil {
			logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		}
	}

	logger.Info("chainwatch started",
		slog.Int("port", cfg.Server.Port),
		slog.String("network", cfg.Ledger.Network),
		slog.String("node_url", cfg.Ledger.NodeURL))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	if err := mon.Shutdown(shutdownCtx); err != nil {
		logger.Error("monitor shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("chainwatch shutdown complete")
}
