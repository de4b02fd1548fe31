// Package projector folds committed events into materialized views.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/metrics"
)

// ErrNoEvents is returned by Rebuild for an aggregate without history.
var ErrNoEvents = errors.New("aggregate has no events")

// ErrorHandler receives failures of Dispatch. The commit is already durable
// at that point, so the handler decides how to recover (log, retry, alert).
type ErrorHandler func(ctx context.Context, aggregateID string, err error)

// EventLoader reads the history of one aggregate.
type EventLoader interface {
	LoadEvents(ctx context.Context, aggregateID string) ([]event.Envelope, error)
}

// HistorySource reads the history of every aggregate of one type.
type HistorySource interface {
	EventLoader
	AggregateIDs(ctx context.Context) ([]string, error)
}

// GenericQuery keeps a view of type V in sync with the events of an aggregate.
type GenericQuery[V appcore.View] struct {
	name    string
	repo    appcore.ViewRepository[V]
	newView func() V
	viewID  func(aggregateID string) string
	onError ErrorHandler
	logger  *slog.Logger
	metrics *metrics.ViewMetrics
}

var _ appcore.Query = (*GenericQuery[appcore.View])(nil)

// Option configures GenericQuery.
type Option func(*queryOptions)

type queryOptions struct {
	viewID  func(string) string
	onError ErrorHandler
	logger  *slog.Logger
	metrics *metrics.ViewMetrics
}

// WithViewIDFunc maps an aggregate id to the id of the view it updates.
func WithViewIDFunc(fn func(aggregateID string) string) Option {
	return func(o *queryOptions) {
		o.viewID = fn
	}
}

// WithErrorHandler replaces the default handler, which logs the failure.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *queryOptions) {
		o.onError = handler
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *queryOptions) {
		o.logger = logger
	}
}

// WithMetrics records view updates.
func WithMetrics(m *metrics.ViewMetrics) Option {
	return func(o *queryOptions) {
		o.metrics = m
	}
}

// NewGenericQuery creates a query processor for the view kind name.
func NewGenericQuery[V appcore.View](
	name string,
	repo appcore.ViewRepository[V],
	newView func() V,
	opts ...Option,
) *GenericQuery[V] {
	o := &queryOptions{
		viewID: func(aggregateID string) string { return aggregateID },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	q := &GenericQuery[V]{
		name:    name,
		repo:    repo,
		newView: newView,
		viewID:  o.viewID,
		onError: o.onError,
		logger:  o.logger,
		metrics: o.metrics,
	}
	if q.onError == nil {
		q.onError = q.logError
	}
	return q
}

// Name returns the view kind.
func (q *GenericQuery[V]) Name() string {
	return q.name
}

// Dispatch folds newly committed events into the view. Failures go to the
// error handler.
func (q *GenericQuery[V]) Dispatch(ctx context.Context, aggregateID string, events []event.Envelope) {
	if len(events) == 0 {
		return
	}
	if err := q.Apply(ctx, aggregateID, events); err != nil {
		q.onError(ctx, aggregateID, err)
	}
}

// Apply folds events into the stored view and persists it.
func (q *GenericQuery[V]) Apply(ctx context.Context, aggregateID string, events []event.Envelope) error {
	start := time.Now()
	viewID := q.viewID(aggregateID)

	view, vc, err := q.repo.LoadWithContext(ctx, viewID)
	if err != nil {
		q.metrics.ObserveViewUpdate(q.name, time.Since(start), err)
		return fmt.Errorf("load view %s/%s: %w", q.name, viewID, err)
	}
	if vc == nil {
		view = q.newView()
		fresh := appcore.NewViewContext(viewID, 0)
		vc = &fresh
	}

	for _, env := range events {
		view.Update(env)
	}

	err = q.repo.UpdateView(ctx, view, *vc)
	q.metrics.ObserveViewUpdate(q.name, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update view %s/%s: %w", q.name, viewID, err)
	}

	q.logger.DebugContext(ctx, "view updated",
		slog.String("view", q.name),
		slog.String("view_id", viewID),
		slog.Int("events_applied", len(events)),
	)
	return nil
}

// Rebuild replays the full history of an aggregate into a fresh view and
// overwrites the stored one.
func (q *GenericQuery[V]) Rebuild(ctx context.Context, loader EventLoader, aggregateID string) error {
	viewID := q.viewID(aggregateID)
	q.logger.InfoContext(ctx, "rebuilding view",
		slog.String("view", q.name),
		slog.String("view_id", viewID),
	)

	view, events, err := q.replay(ctx, loader, aggregateID)
	if err != nil {
		return err
	}

	_, vc, err := q.repo.LoadWithContext(ctx, viewID)
	if err != nil {
		return fmt.Errorf("load view %s/%s: %w", q.name, viewID, err)
	}
	if vc == nil {
		fresh := appcore.NewViewContext(viewID, 0)
		vc = &fresh
	}

	if err = q.repo.UpdateView(ctx, view, *vc); err != nil {
		return fmt.Errorf("update view %s/%s: %w", q.name, viewID, err)
	}

	q.logger.InfoContext(ctx, "successfully rebuilt view",
		slog.String("view", q.name),
		slog.String("view_id", viewID),
		slog.Int("events_applied", events),
	)
	return nil
}

// RebuildAll rebuilds the views of every aggregate in source. Failures of
// single aggregates are logged and counted; the returned error summarizes them.
func (q *GenericQuery[V]) RebuildAll(ctx context.Context, source HistorySource) (RebuildReport, error) {
	q.logger.InfoContext(ctx, "starting rebuild of all views", slog.String("view", q.name))

	ids, err := source.AggregateIDs(ctx)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("failed to get aggregate IDs: %w", err)
	}

	report := RebuildReport{Total: len(ids)}
	for _, id := range ids {
		if rebuildErr := q.Rebuild(ctx, source, id); rebuildErr != nil {
			q.logger.ErrorContext(ctx, "failed to rebuild view",
				slog.String("view", q.name),
				slog.String("aggregate_id", id),
				slog.String("error", rebuildErr.Error()),
			)
			report.Failed++
			continue
		}
		report.Succeeded++
	}

	q.logger.InfoContext(ctx, "completed rebuild of all views",
		slog.String("view", q.name),
		slog.Int("total", report.Total),
		slog.Int("success", report.Succeeded),
		slog.Int("failed", report.Failed),
	)

	if report.Failed > 0 {
		return report, fmt.Errorf("rebuild completed with %d failures out of %d total", report.Failed, report.Total)
	}
	return report, nil
}

// Verify reports whether the stored view equals the view derived from the
// full history of the aggregate.
func (q *GenericQuery[V]) Verify(ctx context.Context, loader EventLoader, aggregateID string) (bool, error) {
	viewID := q.viewID(aggregateID)

	stored, exists, err := q.repo.Load(ctx, viewID)
	if err != nil {
		return false, fmt.Errorf("load view %s/%s: %w", q.name, viewID, err)
	}

	expected, _, err := q.replay(ctx, loader, aggregateID)
	if errors.Is(err, ErrNoEvents) {
		// Both should not exist - consistent
		return !exists, nil
	}
	if err != nil {
		return false, err
	}

	if !exists {
		q.logger.WarnContext(ctx, "view missing for aggregate with events",
			slog.String("view", q.name),
			slog.String("view_id", viewID),
		)
		return false, nil
	}

	consistent := reflect.DeepEqual(expected, stored)
	if !consistent {
		q.logger.WarnContext(ctx, "view inconsistency detected",
			slog.String("view", q.name),
			slog.String("view_id", viewID),
		)
	}
	return consistent, nil
}

func (q *GenericQuery[V]) replay(ctx context.Context, loader EventLoader, aggregateID string) (V, int, error) {
	var zero V

	events, err := loader.LoadEvents(ctx, aggregateID)
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load events for %s: %w", aggregateID, err)
	}
	if len(events) == 0 {
		return zero, 0, fmt.Errorf("%w: %s", ErrNoEvents, aggregateID)
	}

	view := q.newView()
	for _, env := range events {
		view.Update(env)
	}
	return view, len(events), nil
}

func (q *GenericQuery[V]) logError(ctx context.Context, aggregateID string, err error) {
	level := slog.LevelError
	if appcore.IsConcurrencyConflict(err) {
		level = slog.LevelWarn
	}
	q.logger.Log(ctx, level, "failed to update view",
		slog.String("view", q.name),
		slog.String("aggregate_id", aggregateID),
		slog.String("error", err.Error()),
	)
}

// RebuildReport summarizes RebuildAll.
type RebuildReport struct {
	Total     int
	Succeeded int
	Failed    int
}
