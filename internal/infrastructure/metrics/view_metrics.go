package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ViewMetrics contains Prometheus metrics for view processors and event publication.
// All methods are safe to call on a nil receiver.
type ViewMetrics struct {
	ViewUpdatesTotal *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	PublishedTotal   *prometheus.CounterVec
}

// NewViewMetrics creates and registers view metrics with the given registerer.
func NewViewMetrics(registerer prometheus.Registerer) *ViewMetrics {
	metrics := &ViewMetrics{
		ViewUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_view_updates_total",
				Help: "Total number of view updates by outcome",
			},
			[]string{"view", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cqrskit_view_dispatch_duration_seconds",
				Help:    "Time to fold a batch of events into a view",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"view"},
		),
		PublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqrskit_eventbus_published_total",
				Help: "Total number of events published to the event bus",
			},
			[]string{"aggregate_type", "status"},
		),
	}

	registerer.MustRegister(
		metrics.ViewUpdatesTotal,
		metrics.DispatchDuration,
		metrics.PublishedTotal,
	)

	return metrics
}

// ObserveViewUpdate records the outcome of a view update.
func (m *ViewMetrics) ObserveViewUpdate(view string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ViewUpdatesTotal.WithLabelValues(view, statusOf(err)).Inc()
	m.DispatchDuration.WithLabelValues(view).Observe(duration.Seconds())
}

// ObservePublish records the outcome of an event publication.
func (m *ViewMetrics) ObservePublish(aggregateType string, err error) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(aggregateType, statusOf(err)).Inc()
}
