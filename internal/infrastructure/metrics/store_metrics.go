// Package metrics provides Prometheus collectors for the event store and
// the view processors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// Commit outcome label values.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusFailed   = "failed"
)

// StoreMetrics contains Prometheus metrics for monitoring event store performance.
// All methods are safe to call on a nil receiver.
type StoreMetrics struct {
	CommitsTotal     *prometheus.CounterVec
	EventsAppended   *prometheus.CounterVec
	CommitDuration   *prometheus.HistogramVec
	LoadDuration     *prometheus.HistogramVec
	UpcastsTotal     *prometheus.CounterVec
	SnapshotsWritten *prometheus.CounterVec
}

// NewStoreMetrics creates and registers event store metrics with the given registerer.
func NewStoreMetrics(registerer prometheus.Registerer) *StoreMetrics {
	metrics := &StoreMetrics{
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_eventstore_commits_total",
				Help: "Total number of commits by outcome",
			},
			[]string{"aggregate_type", "status"}, // status: success/conflict/failed
		),
		EventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_eventstore_events_appended_total",
				Help: "Total number of events appended",
			},
			[]string{"aggregate_type"},
		),
		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cqrskit_eventstore_commit_duration_seconds",
				Help:    "Time to persist a commit",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"aggregate_type"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cqrskit_eventstore_load_duration_seconds",
				Help:    "Time to load events or restore an aggregate",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"aggregate_type", "operation"},
		),
		UpcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_eventstore_upcasts_total",
				Help: "Total number of stored events upcast on load",
			},
			[]string{"event_type"},
		),
		SnapshotsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_eventstore_snapshots_written_total",
				Help: "Total number of snapshots written",
			},
			[]string{"aggregate_type"},
		),
	}

	registerer.MustRegister(
		metrics.CommitsTotal,
		metrics.EventsAppended,
		metrics.CommitDuration,
		metrics.LoadDuration,
		metrics.UpcastsTotal,
		metrics.SnapshotsWritten,
	)

	return metrics
}

// ObserveCommit records the outcome of a commit.
func (m *StoreMetrics) ObserveCommit(aggregateType string, events int, duration time.Duration, err error) {
	if m == nil {
		return
	}

	m.CommitsTotal.WithLabelValues(aggregateType, statusOf(err)).Inc()
	m.CommitDuration.WithLabelValues(aggregateType).Observe(duration.Seconds())
	if err == nil {
		m.EventsAppended.WithLabelValues(aggregateType).Add(float64(events))
	}
}

// ObserveLoad records the duration of a load operation.
func (m *StoreMetrics) ObserveLoad(aggregateType, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LoadDuration.WithLabelValues(aggregateType, operation).Observe(duration.Seconds())
}

// IncUpcast counts an upcast event.
func (m *StoreMetrics) IncUpcast(eventType string) {
	if m == nil {
		return
	}
	m.UpcastsTotal.WithLabelValues(eventType).Inc()
}

// IncSnapshot counts a written snapshot.
func (m *StoreMetrics) IncSnapshot(aggregateType string) {
	if m == nil {
		return
	}
	m.SnapshotsWritten.WithLabelValues(aggregateType).Inc()
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case appcore.IsConcurrencyConflict(err):
		return StatusConflict
	default:
		return StatusFailed
	}
}
