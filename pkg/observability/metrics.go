// Package observability exposes the service's own health as Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshstats"

// Metrics holds every collector the service updates
type Metrics struct {
	collections      *prometheus.CounterVec
	breakerOpen      prometheus.Gauge
	breakerFailures  prometheus.Gauge
	samplesInserted  *prometheus.CounterVec
	samplesDuplicate *prometheus.CounterVec
	retryAttempts    *prometheus.CounterVec
	reportDuration   *prometheus.HistogramVec
	wsClients        prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Collection cycles by role and outcome (collected, skipped, failed).",
		}, []string{"role", "outcome"}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 while the repeater circuit breaker refuses collection.",
		}),
		breakerFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_consecutive_failures",
			Help:      "Consecutive failed repeater collections.",
		}),
		samplesInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_inserted_total",
			Help:      "Samples written to storage.",
		}, []string{"role"}),
		samplesDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_duplicate_total",
			Help:      "Samples ignored because (ts, role, metric) already existed.",
		}, []string{"role"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_attempts_total",
			Help:      "Remote command attempts, including retries.",
		}, []string{"operation"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_build_seconds",
			Help:      "Time to build a report.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.collections,
			m.breakerOpen,
			m.breakerFailures,
			m.samplesInserted,
			m.samplesDuplicate,
			m.retryAttempts,
			m.reportDuration,
			m.wsClients,
		)
	}
	return m
}

// RecordCollection counts one collection cycle
func (m *Metrics) RecordCollection(role, outcome string) {
	m.collections.WithLabelValues(role, outcome).Inc()
}

// SetBreaker publishes the breaker state
func (m *Metrics) SetBreaker(open bool, consecutiveFailures int) {
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.Set(v)
	m.breakerFailures.Set(float64(consecutiveFailures))
}

// RecordInsert counts written and duplicate samples
func (m *Metrics) RecordInsert(role string, inserted, duplicates int) {
	if inserted > 0 {
		m.samplesInserted.WithLabelValues(role).Add(float64(inserted))
	}
	if duplicates > 0 {
		m.samplesDuplicate.WithLabelValues(role).Add(float64(duplicates))
	}
}

// RecordAttempts counts remote attempts for an operation
func (m *Metrics) RecordAttempts(operation string, attempts int) {
	m.retryAttempts.WithLabelValues(operation).Add(float64(attempts))
}

// ObserveReport records how long building a report took
func (m *Metrics) ObserveReport(kind string, started time.Time) {
	m.reportDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// SetWebsocketClients publishes the hub's client count
func (m *Metrics) SetWebsocketClients(n int) {
	m.wsClients.Set(float64(n))
}
