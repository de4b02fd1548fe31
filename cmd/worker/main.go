// Package main provides the view worker entry point: it consumes committed
// events from Redis, keeps views in sync and serves health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lllypuk/cqrskit/internal/bootstrap"
	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/lllypuk/cqrskit/internal/infrastructure/httpserver"
)

const startupTimeout = 30 * time.Second

//nolint:funlen // Main function handles startup orchestration and is readable as-is
func main() {
	rebuildOnStart := flag.Bool("rebuild", false, "Rebuild all views before consuming events")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	logger.Info("starting cqrskit worker",
		slog.String("app", cfg.App.Name),
		slog.String("environment", cfg.App.Environment),
		slog.String("backend", cfg.EventStore.Backend),
	)

	// Create a context that will be cancelled on shutdown signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, logger)

	initCtx, initCancel := context.WithTimeout(ctx, startupTimeout)
	container, err := bootstrap.NewContainer(initCtx, cfg, bootstrap.WithLogger(logger))
	initCancel()
	if err != nil {
		logger.Error("failed to initialize container", slog.String("error", err.Error()))
		cancel()
		os.Exit(1) //nolint:gocritic // cancel() called before exit
	}
	defer func() {
		if closeErr := container.Close(); closeErr != nil {
			logger.Error("failed to close container", slog.String("error", closeErr.Error()))
		}
	}()

	if *rebuildOnStart {
		report, rebuildErr := container.CustomerQuery.RebuildAll(ctx, container.CustomerStore)
		if rebuildErr != nil {
			logger.Error("initial rebuild failed", slog.String("error", rebuildErr.Error()))
		} else {
			logger.Info("initial rebuild completed",
				slog.Int("total", report.Total),
				slog.Int("succeeded", report.Succeeded),
				slog.Int("failed", report.Failed),
			)
		}
	}

	server := newServer(cfg, container, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if startErr := server.Start(); startErr != nil {
			logger.Error("http server error", slog.String("error", startErr.Error()))
			cancel()
		}
	}()

	if container.EventBus != nil {
		if subErr := subscribeViews(container); subErr != nil {
			logger.Error("failed to subscribe", slog.String("error", subErr.Error()))
			cancel()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := container.EventBus.Start(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("event bus error", slog.String("error", runErr.Error()))
				cancel()
			}
		}()
	} else {
		logger.Warn("event bus disabled, views are only updated in-process")
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("http server shutdown failed", slog.String("error", shutdownErr.Error()))
	}

	wg.Wait()

	logger.Info("worker shutdown complete")
}

// newServer exposes health and metrics of the container.
func newServer(cfg *config.Config, container *bootstrap.Container, logger *slog.Logger) *httpserver.Server {
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	server.RegisterHealth(container.Health)
	server.RegisterMetrics(container.Registry)
	return server
}

// setupLogger creates and configures the structured logger based on configuration.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	level := parseLogLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsDevelopment(),
	}

	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handleShutdown listens for OS signals and cancels the context.
func handleShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()
}
