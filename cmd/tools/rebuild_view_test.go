package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/bootstrap"
	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/lllypuk/cqrskit/internal/domain/customer"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

func setupContainer(t *testing.T) *bootstrap.Container {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EventStore.Backend = config.BackendInMemory
	cfg.EventBus.Type = "none"

	c, err := bootstrap.NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// commitWithoutView appends events bypassing the framework, leaving the view stale.
func commitWithoutView(t *testing.T, c *bootstrap.Container, id string, events ...event.Event) {
	t.Helper()
	ctx := context.Background()
	actx, err := c.CustomerStore.LoadAggregate(ctx, id)
	require.NoError(t, err)
	_, err = c.CustomerStore.Commit(ctx, events, actx, event.Metadata{})
	require.NoError(t, err)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_VerifyAllThenRebuildAll(t *testing.T) {
	// Arrange
	ctx := context.Background()
	c := setupContainer(t)
	_, err := c.Framework.Execute(ctx, "customer-1", customer.AddName{Name: "John"})
	require.NoError(t, err)
	commitWithoutView(t, c, "customer-2", &customer.NameAdded{Name: "Jane"})

	reportPath := filepath.Join(t.TempDir(), "report.json")

	// Act: verify reports the stale view
	err = run(ctx, c.CustomerQuery, c.CustomerStore, options{all: true, verify: true, reportFile: reportPath}, discardLogger())

	// Assert
	require.ErrorIs(t, err, errInconsistent)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report VerifyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "customer_view", report.View)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Consistent)
	assert.Equal(t, []string{"customer-2"}, report.Inconsistent)
	assert.Empty(t, report.Errors)

	// Act: rebuild everything, then verify again
	require.NoError(t, run(ctx, c.CustomerQuery, c.CustomerStore, options{all: true}, discardLogger()))
	require.NoError(t, run(ctx, c.CustomerQuery, c.CustomerStore, options{all: true, verify: true}, discardLogger()))
}

func TestRun_SingleAggregate(t *testing.T) {
	ctx := context.Background()
	c := setupContainer(t)
	commitWithoutView(t, c, "customer-1",
		&customer.NameAdded{Name: "John"},
		&customer.EmailUpdated{NewEmail: "john@example.com"},
	)

	err := run(ctx, c.CustomerQuery, c.CustomerStore, options{aggregateID: "customer-1", verify: true}, discardLogger())
	require.ErrorIs(t, err, errInconsistent)

	require.NoError(t, run(ctx, c.CustomerQuery, c.CustomerStore, options{aggregateID: "customer-1"}, discardLogger()))

	view, found, err := c.CustomerViews.Load(ctx, "customer-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "john@example.com", view.Email)

	require.NoError(t, run(ctx, c.CustomerQuery, c.CustomerStore, options{aggregateID: "customer-1", verify: true}, discardLogger()))
}

func TestRun_VerifyUnknownAggregate(t *testing.T) {
	c := setupContainer(t)

	err := run(context.Background(), c.CustomerQuery, c.CustomerStore, options{aggregateID: "missing", verify: true}, discardLogger())

	assert.NoError(t, err, "no events and no view is consistent")
}
