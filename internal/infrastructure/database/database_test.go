package database_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver   string
		expected database.Dialect
		wantErr  bool
	}{
		{"sqlite", database.DialectSQLite, false},
		{"sqlite3", database.DialectSQLite, false},
		{"pgx", database.DialectPostgres, false},
		{"postgres", database.DialectPostgres, false},
		{"postgresql", database.DialectPostgres, false},
		{"mysql", database.DialectMySQL, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			dialect, err := database.DialectFor(tt.driver)
			if tt.wantErr {
				require.ErrorIs(t, err, appcore.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dialect)
		})
	}
}

func TestDialect_Builder(t *testing.T) {
	query, args, err := database.DialectPostgres.Builder().
		Select("payload").From("events").Where(sq.Eq{"aggregate_id": "a"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT payload FROM events WHERE aggregate_id = $1", query)
	assert.Equal(t, []any{"a"}, args)

	query, _, err = database.DialectMySQL.Builder().
		Select("payload").From("events").Where(sq.Eq{"aggregate_id": "a"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT payload FROM events WHERE aggregate_id = ?", query)
}

func TestSchema(t *testing.T) {
	for _, dialect := range []database.Dialect{database.DialectSQLite, database.DialectPostgres, database.DialectMySQL} {
		t.Run(string(dialect), func(t *testing.T) {
			statements, err := database.Schema(dialect, database.Tables{
				Events:    "ev",
				Snapshots: "snap",
				Views:     []string{"customer_view", "order_view"},
			})
			require.NoError(t, err)

			joined := fmt.Sprint(statements)
			assert.Contains(t, joined, "ev")
			assert.Contains(t, joined, "snap")
			assert.Contains(t, joined, "customer_view")
			assert.Contains(t, joined, "order_view")
			assert.NotContains(t, joined, "{{")
		})
	}
}

func TestSchema_InvalidIdentifier(t *testing.T) {
	tables := database.DefaultTables("customer_view; DROP TABLE events")

	_, err := database.Schema(database.DialectSQLite, tables)

	require.ErrorIs(t, err, appcore.ErrInvalidConfiguration)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := database.Open(ctx, database.Options{Driver: "oracle", DSN: "x"})
	require.ErrorIs(t, err, appcore.ErrInvalidConfiguration)

	_, _, err = database.Open(ctx, database.Options{Driver: "sqlite"})
	require.ErrorIs(t, err, appcore.ErrInvalidConfiguration)
}

func TestMigrate_SQLite(t *testing.T) {
	// Arrange
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "schema.db"))
	db, dialect, err := database.Open(ctx, database.Options{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, database.DialectSQLite, dialect)

	// Act
	tables := database.DefaultTables("customer_view")
	require.NoError(t, database.Migrate(ctx, db, dialect, tables))
	require.NoError(t, database.Migrate(ctx, db, dialect, tables))

	// Assert the primary key rejects a duplicate sequence
	insert := "INSERT INTO events (aggregate_type, aggregate_id, sequence, event_type, event_version, payload, metadata) " +
		"VALUES ('Customer', 'c-1', 1, 'NameAdded', '1.0.1', '{}', '{}')"
	_, err = db.ExecContext(ctx, insert)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert)
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	wrapped := database.WrapError("append events", err)
	assert.True(t, appcore.IsConcurrencyConflict(wrapped))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, database.IsUniqueViolation(nil))
	assert.False(t, database.IsUniqueViolation(errors.New("connection refused")))
	assert.True(t, database.IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, database.IsUniqueViolation(&pq.Error{Code: "23503"}))

	wrapped := database.WrapError("load", errors.New("connection refused"))
	require.ErrorIs(t, wrapped, appcore.ErrConnection)
}
