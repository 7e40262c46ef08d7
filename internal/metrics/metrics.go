// Package metrics exposes prometheus collectors for the request workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inventory"

type Metrics struct {
	RequestsCreated   *prometheus.CounterVec
	RequestsProcessed *prometheus.CounterVec
	PendingStale      prometheus.Gauge
	HTTPDuration      *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg creates unregistered
// collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Inventory requests submitted, by movement type and outcome.",
		}, []string{"movement_type", "outcome"}),
		RequestsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_processed_total",
			Help:      "Process calls, by action and outcome.",
		}, []string{"action", "outcome"}),
		PendingStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending_stale",
			Help:      "Pending requests older than the configured threshold at the last report.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	if reg != nil {
		reg.MustRegister(m.RequestsCreated, m.RequestsProcessed, m.PendingStale, m.HTTPDuration)
	}
	return m
}

func (m *Metrics) ObserveCreated(movementType, outcome string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(movementType, outcome).Inc()
}

func (m *Metrics) ObserveProcessed(action, outcome string) {
	if m == nil {
		return
	}
	m.RequestsProcessed.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) SetPendingStale(n int) {
	if m == nil {
		return
	}
	m.PendingStale.Set(float64(n))
}
