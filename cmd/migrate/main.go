// Package main creates the event, snapshot and view storage of the configured backend.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lllypuk/cqrskit/internal/bootstrap"
	"github.com/lllypuk/cqrskit/internal/config"
)

const migrateTimeout = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if runErr := run(cfg, logger); runErr != nil {
		logger.Error("migration failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	container, err := bootstrap.NewContainer(ctx, cfg, bootstrap.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := container.Close(); closeErr != nil {
			logger.Error("failed to close container", slog.String("error", closeErr.Error()))
		}
	}()

	if migrateErr := container.Migrate(ctx); migrateErr != nil {
		return migrateErr
	}

	logger.InfoContext(ctx, "migration completed",
		slog.String("backend", cfg.EventStore.Backend),
		slog.Any("views", cfg.Views.Tables),
	)
	return nil
}
