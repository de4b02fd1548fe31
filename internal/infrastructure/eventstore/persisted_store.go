package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/metrics"
	"github.com/lllypuk/cqrskit/internal/infrastructure/upcaster"
)

// PersistedEventStore implements appcore.EventStore on top of an EventRepository.
type PersistedEventStore[A appcore.Aggregate] struct {
	repo          EventRepository
	serializer    *EventSerializer
	newAggregate  func() A
	aggregateType string
	mode          Mode
	snapshotSize  uint64
	logger        *slog.Logger
	metrics       *metrics.StoreMetrics
}

var _ appcore.EventStore[appcore.Aggregate] = (*PersistedEventStore[appcore.Aggregate])(nil)

type storeOptions struct {
	upcasters *upcaster.Pipeline
	logger    *slog.Logger
	metrics   *metrics.StoreMetrics
}

// Option configures PersistedEventStore.
type Option func(*storeOptions)

// WithUpcasters sets the pipeline applied to stored events on load.
func WithUpcasters(pipeline *upcaster.Pipeline) Option {
	return func(o *storeOptions) {
		o.upcasters = pipeline
	}
}

// WithLogger sets the logger for event store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

// NewEventStore creates a plain event store: every load folds the complete
// history into a fresh aggregate and no snapshots are read or written.
func NewEventStore[A appcore.Aggregate](
	repo EventRepository,
	registry *codec.Registry,
	newAggregate func() A,
	opts ...Option,
) *PersistedEventStore[A] {
	return newStore(repo, registry, newAggregate, ModeEvent, 0, opts)
}

// NewSnapshotStore creates a store that restores aggregates from a snapshot plus
// the events after it, writing a new snapshot once size events accumulated
// since the previous one. A size of 0 is treated as 1.
func NewSnapshotStore[A appcore.Aggregate](
	repo EventRepository,
	registry *codec.Registry,
	newAggregate func() A,
	size uint64,
	opts ...Option,
) *PersistedEventStore[A] {
	if size == 0 {
		size = 1
	}
	return newStore(repo, registry, newAggregate, ModeSnapshot, size, opts)
}

// NewAggregateStore creates a store that folds the full history on every load.
func NewAggregateStore[A appcore.Aggregate](
	repo EventRepository,
	registry *codec.Registry,
	newAggregate func() A,
	opts ...Option,
) *PersistedEventStore[A] {
	return newStore(repo, registry, newAggregate, ModeAggregate, 0, opts)
}

// NewStore creates a store in the given mode.
func NewStore[A appcore.Aggregate](
	repo EventRepository,
	registry *codec.Registry,
	newAggregate func() A,
	mode Mode,
	snapshotSize uint64,
	opts ...Option,
) *PersistedEventStore[A] {
	switch mode {
	case ModeSnapshot:
		return NewSnapshotStore(repo, registry, newAggregate, snapshotSize, opts...)
	case ModeAggregate:
		return NewAggregateStore(repo, registry, newAggregate, opts...)
	default:
		return NewEventStore(repo, registry, newAggregate, opts...)
	}
}

func newStore[A appcore.Aggregate](
	repo EventRepository,
	registry *codec.Registry,
	newAggregate func() A,
	mode Mode,
	snapshotSize uint64,
	opts []Option,
) *PersistedEventStore[A] {
	o := &storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	serializer := NewEventSerializer(registry, o.upcasters)
	serializer.metrics = o.metrics

	return &PersistedEventStore[A]{
		repo:          repo,
		serializer:    serializer,
		newAggregate:  newAggregate,
		aggregateType: newAggregate().AggregateType(),
		mode:          mode,
		snapshotSize:  snapshotSize,
		logger:        o.logger,
		metrics:       o.metrics,
	}
}

// Mode returns the restore mode of the store.
func (s *PersistedEventStore[A]) Mode() Mode {
	return s.mode
}

// AggregateType returns the aggregate kind handled by the store.
func (s *PersistedEventStore[A]) AggregateType() string {
	return s.aggregateType
}

// LoadEvents returns all events of an aggregate in ascending sequence order.
func (s *PersistedEventStore[A]) LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveLoad(s.aggregateType, "load_events", time.Since(start)) }()

	records, err := s.repo.GetEvents(ctx, aggregateID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load events",
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	envelopes, err := s.serializer.DeserializeMany(records)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to deserialize events",
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(records)),
			slog.String("error", err.Error()),
		)
		return nil, appcore.NewPersistenceError("load events", appcore.ErrSerialization, err)
	}

	return envelopes, nil
}

// LoadAggregate returns the context for the next commit.
func (s *PersistedEventStore[A]) LoadAggregate(
	ctx context.Context,
	aggregateID string,
) (*appcore.AggregateContext[A], error) {
	start := time.Now()
	defer func() { s.metrics.ObserveLoad(s.aggregateType, "load_aggregate", time.Since(start)) }()

	actx := &appcore.AggregateContext[A]{
		AggregateID: aggregateID,
		Aggregate:   s.newAggregate(),
	}

	var err error
	if s.mode == ModeSnapshot {
		err = s.restoreFromSnapshot(ctx, actx)
	} else {
		err = s.restoreFromHistory(ctx, actx)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load aggregate",
			slog.String("aggregate_id", aggregateID),
			slog.String("mode", s.mode.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return actx, nil
}

func (s *PersistedEventStore[A]) restoreFromHistory(ctx context.Context, actx *appcore.AggregateContext[A]) error {
	envelopes, err := s.LoadEvents(ctx, actx.AggregateID)
	if err != nil {
		return err
	}
	s.fold(actx, envelopes)
	return nil
}

func (s *PersistedEventStore[A]) restoreFromSnapshot(ctx context.Context, actx *appcore.AggregateContext[A]) error {
	snapshot, err := s.repo.GetSnapshot(ctx, actx.AggregateID)
	if err != nil {
		return err
	}

	if snapshot != nil {
		if len(snapshot.CurrentSnapshot) > 0 {
			if err = codec.DecodeValue(snapshot.CurrentSnapshot, actx.Aggregate); err != nil {
				return appcore.NewPersistenceError("load snapshot", appcore.ErrSerialization, err)
			}
		}
		version := snapshot.CurrentSnapshotVersion
		actx.CurrentSnapshot = &version
		actx.SnapshotSequence = snapshot.CurrentSequence
		actx.CurrentSequence = snapshot.CurrentSequence
	}

	records, err := s.repo.GetLastEvents(ctx, actx.AggregateID, actx.SnapshotSequence)
	if err != nil {
		return err
	}
	envelopes, err := s.serializer.DeserializeMany(records)
	if err != nil {
		return appcore.NewPersistenceError("load events", appcore.ErrSerialization, err)
	}

	s.fold(actx, envelopes)
	return nil
}

func (s *PersistedEventStore[A]) fold(actx *appcore.AggregateContext[A], envelopes []event.Envelope) {
	for _, env := range envelopes {
		actx.Aggregate.Apply(env.Payload)
		actx.CurrentSequence = env.Sequence
	}
}

// Commit atomically appends events after actx.CurrentSequence.
// On success the context is advanced so it can be reused for the next commit;
// after a failure it must be discarded and the aggregate reloaded.
func (s *PersistedEventStore[A]) Commit(
	ctx context.Context,
	events []event.Event,
	actx *appcore.AggregateContext[A],
	metadata event.Metadata,
) ([]event.Envelope, error) {
	if actx == nil {
		return nil, fmt.Errorf("%w: commit requires an aggregate context", appcore.ErrInvalidConfiguration)
	}
	if len(events) == 0 {
		return []event.Envelope{}, nil
	}

	start := time.Now()

	records := make([]SerializedEvent, 0, len(events))
	envelopes := make([]event.Envelope, 0, len(events))
	for i, evt := range events {
		sequence := actx.CurrentSequence + uint64(i) + 1
		rec, err := s.serializer.Serialize(actx.AggregateID, s.aggregateType, sequence, evt, metadata)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to serialize events",
				slog.String("aggregate_id", actx.AggregateID),
				slog.Int("events_count", len(events)),
				slog.String("error", err.Error()),
			)
			return nil, appcore.NewPersistenceError("commit", appcore.ErrSerialization, err)
		}
		records = append(records, rec)
		envelopes = append(envelopes, event.Envelope{
			AggregateID: actx.AggregateID,
			Sequence:    sequence,
			Payload:     evt,
			Metadata:    metadata,
		})
	}
	newSequence := actx.CurrentSequence + uint64(len(events))

	for _, evt := range events {
		actx.Aggregate.Apply(evt)
	}

	snapshot, err := s.snapshotUpdate(actx, newSequence)
	if err != nil {
		return nil, err
	}

	err = s.repo.Persist(ctx, actx.AggregateID, actx.CurrentSequence, records, snapshot)
	s.metrics.ObserveCommit(s.aggregateType, len(events), time.Since(start), err)
	if err != nil {
		if errors.Is(err, appcore.ErrConcurrencyConflict) {
			s.logger.WarnContext(ctx, "concurrency conflict in event store",
				slog.String("aggregate_id", actx.AggregateID),
				slog.Uint64("expected_sequence", actx.CurrentSequence),
				slog.Int("events_count", len(events)),
			)
		} else {
			s.logger.ErrorContext(ctx, "failed to commit events",
				slog.String("aggregate_id", actx.AggregateID),
				slog.Int("events_count", len(events)),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	actx.CurrentSequence = newSequence
	if snapshot != nil {
		version := snapshot.Version
		actx.CurrentSnapshot = &version
		actx.SnapshotSequence = snapshot.Sequence
		s.metrics.IncSnapshot(s.aggregateType)
	}

	s.logger.DebugContext(ctx, "events committed",
		slog.String("aggregate_id", actx.AggregateID),
		slog.String("aggregate_type", s.aggregateType),
		slog.Uint64("sequence", newSequence),
		slog.Int("events_count", len(events)),
	)

	return envelopes, nil
}

// snapshotUpdate returns the snapshot to write with this commit, nil when none is due.
func (s *PersistedEventStore[A]) snapshotUpdate(
	actx *appcore.AggregateContext[A],
	newSequence uint64,
) (*SnapshotUpdate, error) {
	if s.mode != ModeSnapshot || newSequence-actx.SnapshotSequence < s.snapshotSize {
		return nil, nil //nolint:nilnil // no snapshot due
	}

	doc, err := codec.EncodeValue(actx.Aggregate)
	if err != nil {
		return nil, appcore.NewPersistenceError("commit snapshot", appcore.ErrSerialization, err)
	}

	var expected uint64
	if actx.CurrentSnapshot != nil {
		expected = *actx.CurrentSnapshot
	}

	return &SnapshotUpdate{
		AggregateType:   s.aggregateType,
		Snapshot:        doc,
		Sequence:        newSequence,
		Version:         expected + 1,
		ExpectedVersion: expected,
	}, nil
}

// AggregateIDs lists the ids of every aggregate of this store's type.
func (s *PersistedEventStore[A]) AggregateIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListAggregateIDs(ctx, s.aggregateType)
}
