package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
)

func TestRun_SQLiteCreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	cfg := config.DefaultConfig()
	cfg.EventBus.Type = "none"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = dsn
	cfg.Database.MaxOpenConns = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, run(cfg, logger))
	require.NoError(t, run(cfg, logger), "second run is a no-op")

	db, _, err := database.Open(context.Background(), database.Options{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"events", "snapshots", "customer_view"} {
		var name string
		err = db.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestRun_InvalidMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EventBus.Type = "none"
	cfg.EventStore.Backend = config.BackendInMemory
	cfg.EventStore.Mode = "unknown"

	require.Error(t, run(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))))
}
