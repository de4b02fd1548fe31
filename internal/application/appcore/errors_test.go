package appcore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

func TestPersistenceError(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name     string
		kind     error
		cause    error
		wantKind error
		wantMsg  string
	}{
		{
			name:     "kind and cause",
			kind:     appcore.ErrConnection,
			cause:    cause,
			wantKind: appcore.ErrConnection,
			wantMsg:  "load events: connection error: connection reset",
		},
		{
			name:     "kind only",
			kind:     appcore.ErrConcurrencyConflict,
			wantKind: appcore.ErrConcurrencyConflict,
			wantMsg:  "load events: optimistic concurrency conflict",
		},
		{
			name:     "cause carries a known kind",
			kind:     appcore.ErrConnection,
			cause:    appcore.NewPersistenceError("persist snapshot", appcore.ErrConcurrencyConflict, nil),
			wantKind: appcore.ErrConcurrencyConflict,
			wantMsg:  "load events: optimistic concurrency conflict: persist snapshot: optimistic concurrency conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := appcore.NewPersistenceError("load events", tt.kind, tt.cause)

			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantMsg, err.Error())
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}

			var pe *appcore.PersistenceError
			assert.ErrorAs(t, err, &pe)
			assert.Equal(t, "load events", pe.Op)
		})
	}
}

func TestIsConcurrencyConflict(t *testing.T) {
	assert.True(t, appcore.IsConcurrencyConflict(
		appcore.NewPersistenceError("commit", appcore.ErrConcurrencyConflict, nil)))
	assert.False(t, appcore.IsConcurrencyConflict(
		appcore.NewPersistenceError("commit", appcore.ErrConnection, errors.New("boom"))))
	assert.False(t, appcore.IsConcurrencyConflict(nil))
}
