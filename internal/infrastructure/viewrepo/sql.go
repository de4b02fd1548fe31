package viewrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
)

// SQLViewRepository stores views of type V as JSON in a table
// (view_id, version, payload).
type SQLViewRepository[V any] struct {
	db           *sql.DB
	table        string
	insertSQL    string
	updateSQL    string
	selectSQL    string
	versionCheck bool
}

var _ appcore.ViewRepository[struct{}] = (*SQLViewRepository[struct{}])(nil)

// NewSQLViewRepository prepares the statements of a view table.
// The table must already exist, see database.Migrate.
func NewSQLViewRepository[V any](
	db *sql.DB,
	dialect database.Dialect,
	table string,
	opts ...Option,
) (*SQLViewRepository[V], error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	builder := dialect.Builder()

	insertSQL, _, err := builder.
		Insert(table).
		Columns("payload", "version", "view_id").
		Values("", 0, "").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build insert: %w", appcore.ErrInvalidConfiguration, err)
	}

	where := sq.And{sq.Eq{"view_id": ""}}
	if o.versionCheck {
		where = append(where, sq.Eq{"version": 0})
	}
	updateSQL, _, err := builder.
		Update(table).
		Set("payload", "").
		Set("version", 0).
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build update: %w", appcore.ErrInvalidConfiguration, err)
	}

	selectSQL, _, err := builder.
		Select("version", "payload").
		From(table).
		Where(sq.Eq{"view_id": ""}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build select: %w", appcore.ErrInvalidConfiguration, err)
	}

	return &SQLViewRepository[V]{
		db:           db,
		table:        table,
		insertSQL:    insertSQL,
		updateSQL:    updateSQL,
		selectSQL:    selectSQL,
		versionCheck: o.versionCheck,
	}, nil
}

// Load returns the view, false when no row exists.
func (r *SQLViewRepository[V]) Load(ctx context.Context, viewID string) (V, bool, error) {
	view, vc, err := r.LoadWithContext(ctx, viewID)
	return view, vc != nil, err
}

// LoadWithContext returns the view and its version token.
func (r *SQLViewRepository[V]) LoadWithContext(ctx context.Context, viewID string) (V, *appcore.ViewContext, error) {
	var (
		zero    V
		version uint64
		payload []byte
	)

	err := r.db.QueryRowContext(ctx, r.selectSQL, viewID).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil, nil
	}
	if err != nil {
		return zero, nil, database.WrapError("load view", err)
	}

	view, err := decodeView[V]("load view", payload)
	if err != nil {
		return zero, nil, err
	}

	vc := appcore.NewViewContext(viewID, version)
	return view, &vc, nil
}

// UpdateView inserts or updates the view depending on vc.Version.
func (r *SQLViewRepository[V]) UpdateView(ctx context.Context, view V, vc appcore.ViewContext) error {
	payload, err := encodeView("update view", view)
	if err != nil {
		return err
	}

	if vc.Version == 0 {
		if _, err = r.db.ExecContext(ctx, r.insertSQL, string(payload), 1, vc.ViewInstanceID); err != nil {
			return database.WrapError("insert view", err)
		}
		return nil
	}

	args := []any{string(payload), vc.Version + 1, vc.ViewInstanceID}
	if r.versionCheck {
		args = append(args, vc.Version)
	}

	result, err := r.db.ExecContext(ctx, r.updateSQL, args...)
	if err != nil {
		return database.WrapError("update view", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return database.WrapError("update view", err)
	}
	if affected == 0 {
		if r.versionCheck {
			return appcore.NewPersistenceError("update view", appcore.ErrConcurrencyConflict, nil)
		}
		return errRowMissing("update view")
	}
	return nil
}

// Table returns the name of the backing table.
func (r *SQLViewRepository[V]) Table() string {
	return r.table
}
