package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
)

const sqliteMaxOpenConns = 1

// SetupTestSQLite creates a file-backed SQLite database with the event store
// schema and the given view tables. The database is removed after the test.
//
// A single connection serializes writers, so concurrent commits observe each
// other through the sequence check instead of failing with SQLITE_BUSY.
func SetupTestSQLite(t *testing.T, views ...string) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		filepath.Join(t.TempDir(), "test.db"))

	db, _, err := database.Open(context.Background(), database.Options{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: sqliteMaxOpenConns,
	})
	if err != nil {
		t.Fatalf("Failed to open SQLite database: %v", err)
	}

	if err = database.Migrate(context.Background(), db, database.DialectSQLite, database.DefaultTables(views...)); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate SQLite database: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
