// Package metrics exposes the daemon's Prometheus instrumentation: a
// self-registered collector set served over /metrics via
// prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge the daemon updates.
type Metrics struct {
	EventsProcessedTotal *prometheus.CounterVec
	QueueDropped         prometheus.Counter
	QueueDepth           prometheus.Gauge
	AlertsTotal          *prometheus.CounterVec
	NotificationsSuppressed prometheus.Counter
	CollectorTickSeconds *prometheus.HistogramVec
	AnomalyTrainingRingSize prometheus.Gauge
	StoreWriteErrors     *prometheus.CounterVec
}

// New registers and returns a fresh Metrics bundle against reg. Tests
// pass a private prometheus.NewRegistry(); production passes
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_events_processed_total",
			Help: "Total events the dispatcher has persisted and fanned out, by source.",
		}, []string{"source"}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_queue_dropped_total",
			Help: "Events evicted from the dispatcher queue because it was full.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentineld_queue_depth",
			Help: "Current depth of the dispatcher's bounded event queue.",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_alerts_total",
			Help: "Total alerts raised, by severity.",
		}, []string{"severity"}),
		NotificationsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentineld_notifications_suppressed_total",
			Help: "Notifications suppressed by the alert sink's rate limiter.",
		}),
		CollectorTickSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "sentineld_collector_tick_seconds",
			Help: "Wall time spent processing a single collector tick.",
		}, []string{"collector"}),
		AnomalyTrainingRingSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentineld_anomaly_training_ring_size",
			Help: "Current number of feature vectors buffered for anomaly-model training.",
		}),
		StoreWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_store_write_errors_total",
			Help: "Store write failures, by table.",
		}, []string{"table"}),
	}
}
