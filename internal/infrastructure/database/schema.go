package database

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Default table names.
const (
	DefaultEventsTable    = "events"
	DefaultSnapshotsTable = "snapshots"
)

// Tables names the tables created by Migrate.
type Tables struct {
	Events    string
	Snapshots string
	Views     []string
}

// DefaultTables returns the default event and snapshot table names.
func DefaultTables(views ...string) Tables {
	return Tables{
		Events:    DefaultEventsTable,
		Snapshots: DefaultSnapshotsTable,
		Views:     views,
	}
}

// ValidateIdentifier checks that name is safe to interpolate as a table name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid table name %q", appcore.ErrInvalidConfiguration, name)
	}
	return nil
}

func (t Tables) validate() error {
	names := append([]string{t.Events, t.Snapshots}, t.Views...)
	for _, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

// Schema renders the DDL statements for the dialect.
func Schema(dialect Dialect, tables Tables) ([]string, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}

	raw, err := schemaFS.ReadFile("schema/" + string(dialect) + ".sql")
	if err != nil {
		return nil, fmt.Errorf("%w: no schema for dialect %q", appcore.ErrInvalidConfiguration, dialect)
	}

	tmpl, err := template.New(string(dialect)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s schema: %w", dialect, err)
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, tables); err != nil {
		return nil, fmt.Errorf("failed to render %s schema: %w", dialect, err)
	}

	var statements []string
	for _, stmt := range strings.Split(buf.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

// Migrate creates the event, snapshot and view tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, tables Tables) error {
	statements, err := Schema(dialect, tables)
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			return appcore.NewPersistenceError("migrate schema", appcore.ErrConnection, err)
		}
	}
	return nil
}
