package appcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

func TestUserIDContext(t *testing.T) {
	t.Run("set and get userID", func(t *testing.T) {
		ctx := appcore.WithUserID(context.Background(), "user-1")

		retrievedID, err := appcore.GetUserID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user-1", retrievedID)
	})

	t.Run("get userID from empty context", func(t *testing.T) {
		_, err := appcore.GetUserID(context.Background())
		require.Error(t, err)
		assert.Equal(t, appcore.ErrUserIDNotFound, err)
	})
}

func TestCorrelationIDContext(t *testing.T) {
	t.Run("set and get correlationID", func(t *testing.T) {
		ctx := appcore.WithCorrelationID(context.Background(), "corr-123")

		retrievedID, err := appcore.GetCorrelationID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "corr-123", retrievedID)
	})

	t.Run("get correlationID from empty context", func(t *testing.T) {
		_, err := appcore.GetCorrelationID(context.Background())
		require.ErrorIs(t, err, appcore.ErrCorrelationIDNotFound)
	})
}

func TestCausationAndTraceIDContext(t *testing.T) {
	ctx := appcore.WithCausationID(context.Background(), "cause-1")
	ctx = appcore.WithTraceID(ctx, "trace-1")

	assert.Equal(t, "cause-1", appcore.GetCausationID(ctx))
	assert.Equal(t, "trace-1", appcore.GetTraceID(ctx))
	assert.Empty(t, appcore.GetCausationID(context.Background()))
	assert.Empty(t, appcore.GetTraceID(context.Background()))
}

func TestMetadataFromContext(t *testing.T) {
	ctx := appcore.WithUserID(context.Background(), "user-1")
	ctx = appcore.WithCorrelationID(ctx, "corr-1")
	ctx = appcore.WithCausationID(ctx, "cause-1")
	ctx = appcore.WithTraceID(ctx, "trace-1")

	t.Run("fills empty fields", func(t *testing.T) {
		m := appcore.MetadataFromContext(ctx, event.Metadata{})

		assert.Equal(t, "user-1", m.UserID)
		assert.Equal(t, "corr-1", m.CorrelationID)
		assert.Equal(t, "cause-1", m.CausationID)
		traceID, ok := m.Get("trace_id")
		assert.True(t, ok)
		assert.Equal(t, "trace-1", traceID)
	})

	t.Run("explicit values win", func(t *testing.T) {
		m := appcore.MetadataFromContext(ctx, event.Metadata{UserID: "admin"}.With("trace_id", "explicit"))

		assert.Equal(t, "admin", m.UserID)
		assert.Equal(t, "corr-1", m.CorrelationID)
		traceID, _ := m.Get("trace_id")
		assert.Equal(t, "explicit", traceID)
	})

	t.Run("empty context leaves metadata untouched", func(t *testing.T) {
		m := appcore.MetadataFromContext(context.Background(), event.Metadata{})

		assert.Equal(t, event.Metadata{}, m)
	})
}
