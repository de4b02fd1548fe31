// Package cqrs sequences command execution against an event store:
// load aggregate context, run business logic, commit, notify queries.
package cqrs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/database"
	"github.com/lllypuk/cqrskit/internal/infrastructure/eventstore"
)

// Framework is the single entry point of the orchestration layer.
type Framework[A appcore.Aggregate] struct {
	store   appcore.EventStore[A]
	queries []appcore.Query
	logger  *slog.Logger
}

type frameworkOptions struct {
	logger       *slog.Logger
	storeOptions []eventstore.Option
	sqlOptions   []eventstore.SQLOption
}

// Option configures Framework.
type Option func(*frameworkOptions)

// WithLogger sets the logger for the framework.
func WithLogger(logger *slog.Logger) Option {
	return func(o *frameworkOptions) {
		o.logger = logger
	}
}

// WithStoreOptions passes options to the event store built by the SQL constructors.
func WithStoreOptions(opts ...eventstore.Option) Option {
	return func(o *frameworkOptions) {
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

// WithSQLOptions passes options to the SQL repository built by the SQL constructors.
func WithSQLOptions(opts ...eventstore.SQLOption) Option {
	return func(o *frameworkOptions) {
		o.sqlOptions = append(o.sqlOptions, opts...)
	}
}

func buildOptions(opts []Option) *frameworkOptions {
	o := &frameworkOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFramework creates a Framework. Queries are notified in slice order.
func NewFramework[A appcore.Aggregate](
	store appcore.EventStore[A],
	queries []appcore.Query,
	opts ...Option,
) *Framework[A] {
	o := buildOptions(opts)
	return &Framework[A]{
		store:   store,
		queries: append([]appcore.Query(nil), queries...),
		logger:  o.logger,
	}
}

// NewSQLFramework wires a plain event store over db.
func NewSQLFramework[A appcore.Aggregate](
	db *sql.DB,
	dialect database.Dialect,
	registry *codec.Registry,
	newAggregate func() A,
	queries []appcore.Query,
	opts ...Option,
) *Framework[A] {
	return newSQLFramework(db, dialect, registry, newAggregate, eventstore.ModeEvent, 0, queries, opts)
}

// NewSQLSnapshotFramework wires a snapshot store over db, snapshotting every size events.
func NewSQLSnapshotFramework[A appcore.Aggregate](
	db *sql.DB,
	dialect database.Dialect,
	registry *codec.Registry,
	newAggregate func() A,
	size uint64,
	queries []appcore.Query,
	opts ...Option,
) *Framework[A] {
	return newSQLFramework(db, dialect, registry, newAggregate, eventstore.ModeSnapshot, size, queries, opts)
}

// NewSQLAggregateFramework wires a store that folds the full history on every load.
func NewSQLAggregateFramework[A appcore.Aggregate](
	db *sql.DB,
	dialect database.Dialect,
	registry *codec.Registry,
	newAggregate func() A,
	queries []appcore.Query,
	opts ...Option,
) *Framework[A] {
	return newSQLFramework(db, dialect, registry, newAggregate, eventstore.ModeAggregate, 0, queries, opts)
}

func newSQLFramework[A appcore.Aggregate](
	db *sql.DB,
	dialect database.Dialect,
	registry *codec.Registry,
	newAggregate func() A,
	mode eventstore.Mode,
	size uint64,
	queries []appcore.Query,
	opts []Option,
) *Framework[A] {
	o := buildOptions(opts)
	storeOpts := append([]eventstore.Option{eventstore.WithLogger(o.logger)}, o.storeOptions...)

	repo := eventstore.NewSQLEventRepository(db, dialect, o.sqlOptions...)
	store := eventstore.NewStore(repo, registry, newAggregate, mode, size, storeOpts...)

	return &Framework[A]{
		store:   store,
		queries: append([]appcore.Query(nil), queries...),
		logger:  o.logger,
	}
}

// Store returns the underlying event store.
func (f *Framework[A]) Store() appcore.EventStore[A] {
	return f.store
}

// Execute runs cmd against the aggregate with metadata taken from ctx.
func (f *Framework[A]) Execute(ctx context.Context, aggregateID string, cmd appcore.Command) ([]event.Envelope, error) {
	return f.ExecuteWithMetadata(ctx, aggregateID, cmd, event.Metadata{})
}

// ExecuteWithMetadata runs cmd against the aggregate and returns the committed envelopes.
// Empty metadata fields are filled from ctx. A concurrency conflict is returned
// as is; the caller decides whether to retry.
func (f *Framework[A]) ExecuteWithMetadata(
	ctx context.Context,
	aggregateID string,
	cmd appcore.Command,
	metadata event.Metadata,
) ([]event.Envelope, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", appcore.ErrInvalidConfiguration)
	}

	actx, err := f.store.LoadAggregate(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregate: %w", err)
	}

	events, err := actx.Aggregate.Handle(ctx, cmd)
	if err != nil {
		f.logger.DebugContext(ctx, "command rejected",
			slog.String("aggregate_id", aggregateID),
			slog.String("command", cmd.CommandName()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: %w", appcore.ErrCommandRejected, cmd.CommandName(), err)
	}
	if len(events) == 0 {
		return []event.Envelope{}, nil
	}

	envelopes, err := f.store.Commit(ctx, events, actx, appcore.MetadataFromContext(ctx, metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", cmd.CommandName(), err)
	}

	for _, q := range f.queries {
		q.Dispatch(ctx, aggregateID, envelopes)
	}

	return envelopes, nil
}
