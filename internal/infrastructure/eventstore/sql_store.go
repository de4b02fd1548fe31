package eventstore

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
)

var eventColumns = []string{
	"aggregate_type",
	"aggregate_id",
	"sequence",
	"event_type",
	"event_version",
	"payload",
	"metadata",
}

// SQLEventRepository stores events and snapshots in SQL tables.
type SQLEventRepository struct {
	db             *sql.DB
	builder        sq.StatementBuilderType
	eventsTable    string
	snapshotsTable string
}

// SQLOption configures SQLEventRepository.
type SQLOption func(*SQLEventRepository)

// WithEventsTable overrides the events table name.
func WithEventsTable(name string) SQLOption {
	return func(r *SQLEventRepository) {
		r.eventsTable = name
	}
}

// WithSnapshotsTable overrides the snapshots table name.
func WithSnapshotsTable(name string) SQLOption {
	return func(r *SQLEventRepository) {
		r.snapshotsTable = name
	}
}

// NewSQLEventRepository creates a repository over an existing pool.
// The tables must already exist, see database.Migrate.
func NewSQLEventRepository(db *sql.DB, dialect database.Dialect, opts ...SQLOption) *SQLEventRepository {
	r := &SQLEventRepository{
		db:             db,
		builder:        dialect.Builder(),
		eventsTable:    database.DefaultEventsTable,
		snapshotsTable: database.DefaultSnapshotsTable,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetEvents returns all events of an aggregate ordered by sequence.
func (r *SQLEventRepository) GetEvents(ctx context.Context, aggregateID string) ([]SerializedEvent, error) {
	query := r.builder.
		Select(eventColumns...).
		From(r.eventsTable).
		Where(sq.Eq{"aggregate_id": aggregateID}).
		OrderBy("sequence ASC")

	return r.queryEvents(ctx, "get events", query)
}

// GetLastEvents returns the events with a sequence greater than afterSequence.
func (r *SQLEventRepository) GetLastEvents(
	ctx context.Context,
	aggregateID string,
	afterSequence uint64,
) ([]SerializedEvent, error) {
	query := r.builder.
		Select(eventColumns...).
		From(r.eventsTable).
		Where(sq.Eq{"aggregate_id": aggregateID}).
		Where(sq.Gt{"sequence": afterSequence}).
		OrderBy("sequence ASC")

	return r.queryEvents(ctx, "get last events", query)
}

func (r *SQLEventRepository) queryEvents(
	ctx context.Context,
	op string,
	query sq.SelectBuilder,
) ([]SerializedEvent, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, appcore.NewPersistenceError(op, appcore.ErrInvalidConfiguration, err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, database.WrapError(op, err)
	}
	defer rows.Close()

	events := make([]SerializedEvent, 0)
	for rows.Next() {
		var (
			rec      SerializedEvent
			payload  []byte
			metadata []byte
		)
		if err = rows.Scan(
			&rec.AggregateType,
			&rec.AggregateID,
			&rec.Sequence,
			&rec.EventType,
			&rec.EventVersion,
			&payload,
			&metadata,
		); err != nil {
			return nil, database.WrapError(op, err)
		}

		if rec.Payload, err = codec.Unmarshal(payload); err != nil {
			return nil, appcore.NewPersistenceError(op, appcore.ErrSerialization, err)
		}
		if rec.Metadata, err = codec.Unmarshal(metadata); err != nil {
			return nil, appcore.NewPersistenceError(op, appcore.ErrSerialization, err)
		}
		events = append(events, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, database.WrapError(op, err)
	}

	return events, nil
}

// GetCurrentSequence returns the highest committed sequence, 0 when none.
func (r *SQLEventRepository) GetCurrentSequence(ctx context.Context, aggregateID string) (uint64, error) {
	return r.currentSequence(ctx, r.db, aggregateID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLEventRepository) currentSequence(ctx context.Context, q queryer, aggregateID string) (uint64, error) {
	stmt, args, err := r.builder.
		Select("COALESCE(MAX(sequence), 0)").
		From(r.eventsTable).
		Where(sq.Eq{"aggregate_id": aggregateID}).
		ToSql()
	if err != nil {
		return 0, appcore.NewPersistenceError("get current sequence", appcore.ErrInvalidConfiguration, err)
	}

	var sequence uint64
	if err = q.QueryRowContext(ctx, stmt, args...).Scan(&sequence); err != nil {
		return 0, database.WrapError("get current sequence", err)
	}
	return sequence, nil
}

// GetSnapshot returns the stored snapshot or nil.
func (r *SQLEventRepository) GetSnapshot(ctx context.Context, aggregateID string) (*SerializedSnapshot, error) {
	stmt, args, err := r.builder.
		Select("aggregate_type", "current_sequence", "current_snapshot", "current_snapshot_version").
		From(r.snapshotsTable).
		Where(sq.Eq{"aggregate_id": aggregateID}).
		ToSql()
	if err != nil {
		return nil, appcore.NewPersistenceError("get snapshot", appcore.ErrInvalidConfiguration, err)
	}

	snapshot := &SerializedSnapshot{AggregateID: aggregateID}
	var payload []byte
	err = r.db.QueryRowContext(ctx, stmt, args...).Scan(
		&snapshot.AggregateType,
		&snapshot.CurrentSequence,
		&payload,
		&snapshot.CurrentSnapshotVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absent snapshot is not an error
	}
	if err != nil {
		return nil, database.WrapError("get snapshot", err)
	}

	if payload != nil {
		if snapshot.CurrentSnapshot, err = codec.Unmarshal(payload); err != nil {
			return nil, appcore.NewPersistenceError("get snapshot", appcore.ErrSerialization, err)
		}
	}
	return snapshot, nil
}

// Persist appends events and writes the snapshot in a single transaction.
func (r *SQLEventRepository) Persist(
	ctx context.Context,
	aggregateID string,
	expectedSequence uint64,
	events []SerializedEvent,
	snapshot *SnapshotUpdate,
) error {
	if len(events) == 0 && snapshot == nil {
		return nil
	}

	insert, err := r.insertEvents(events)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return database.WrapError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Проверяем текущую позицию (оптимистичная блокировка)
	current, err := r.currentSequence(ctx, tx, aggregateID)
	if err != nil {
		return err
	}
	if current != expectedSequence {
		return appcore.NewPersistenceError("persist events", appcore.ErrConcurrencyConflict, nil)
	}

	// 2. Вставляем события; уникальный индекс ловит параллельную запись
	if insert != nil {
		stmt, args, errSQL := insert.ToSql()
		if errSQL != nil {
			return appcore.NewPersistenceError("persist events", appcore.ErrInvalidConfiguration, errSQL)
		}
		if _, err = tx.ExecContext(ctx, stmt, args...); err != nil {
			return database.WrapError("persist events", err)
		}
	}

	// 3. Снапшот в той же транзакции
	if snapshot != nil {
		if err = r.writeSnapshot(ctx, tx, aggregateID, snapshot); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return database.WrapError("commit transaction", err)
	}
	return nil
}

func (r *SQLEventRepository) insertEvents(events []SerializedEvent) (*sq.InsertBuilder, error) {
	if len(events) == 0 {
		return nil, nil //nolint:nilnil // nothing to insert
	}

	insert := r.builder.Insert(r.eventsTable).Columns(eventColumns...)
	for _, rec := range events {
		payload, err := codec.Marshal(rec.Payload)
		if err != nil {
			return nil, appcore.NewPersistenceError("persist events", appcore.ErrSerialization, err)
		}
		metadata, err := codec.Marshal(rec.Metadata)
		if err != nil {
			return nil, appcore.NewPersistenceError("persist events", appcore.ErrSerialization, err)
		}
		insert = insert.Values(
			rec.AggregateType,
			rec.AggregateID,
			rec.Sequence,
			rec.EventType,
			rec.EventVersion,
			string(payload),
			string(metadata),
		)
	}
	return &insert, nil
}

func (r *SQLEventRepository) writeSnapshot(
	ctx context.Context,
	tx *sql.Tx,
	aggregateID string,
	snapshot *SnapshotUpdate,
) error {
	payload, err := codec.Marshal(snapshot.Snapshot)
	if err != nil {
		return appcore.NewPersistenceError("persist snapshot", appcore.ErrSerialization, err)
	}

	var sqlizer sq.Sqlizer
	if snapshot.ExpectedVersion == 0 {
		sqlizer = r.builder.
			Insert(r.snapshotsTable).
			Columns("aggregate_type", "aggregate_id", "current_sequence", "current_snapshot", "current_snapshot_version").
			Values(snapshot.AggregateType, aggregateID, snapshot.Sequence, string(payload), snapshot.Version)
	} else {
		sqlizer = r.builder.
			Update(r.snapshotsTable).
			Set("current_sequence", snapshot.Sequence).
			Set("current_snapshot", string(payload)).
			Set("current_snapshot_version", snapshot.Version).
			Where(sq.Eq{"aggregate_id": aggregateID, "current_snapshot_version": snapshot.ExpectedVersion})
	}

	stmt, args, err := sqlizer.ToSql()
	if err != nil {
		return appcore.NewPersistenceError("persist snapshot", appcore.ErrInvalidConfiguration, err)
	}

	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return database.WrapError("persist snapshot", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return database.WrapError("persist snapshot", err)
	}
	if affected == 0 {
		return appcore.NewPersistenceError("persist snapshot", appcore.ErrConcurrencyConflict, nil)
	}
	return nil
}

// ListAggregateIDs returns the ids of all aggregates of a type that have events.
func (r *SQLEventRepository) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	stmt, args, err := r.builder.
		Select("aggregate_id").
		Distinct().
		From(r.eventsTable).
		Where(sq.Eq{"aggregate_type": aggregateType}).
		OrderBy("aggregate_id").
		ToSql()
	if err != nil {
		return nil, appcore.NewPersistenceError("list aggregates", appcore.ErrInvalidConfiguration, err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, database.WrapError("list aggregates", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, database.WrapError("list aggregates", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, database.WrapError("list aggregates", err)
	}
	return ids, nil
}
