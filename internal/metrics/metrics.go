// Package metrics records verification runs as Prometheus metrics and
// writes them in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ldap_endpoint_verify"

// Statuses are the values of the status label, pre-initialised to zero.
var Statuses = []string{"found", "not_found", "error"}

// Metrics provides observability for a verification run.
type Metrics struct {
	registry *prometheus.Registry

	// Verified names by status
	Records *prometheus.CounterVec

	// Latency of a single computer lookup
	QueryDuration prometheus.Histogram

	// Wall time of the whole run
	RunDuration prometheus.Gauge

	// Unix time the run finished
	LastRunTimestamp prometheus.Gauge

	// 1 if the run completed without errors
	LastRunSuccess prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Verified endpoint names by status",
		}, []string{"status"}),

		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of a single computer account lookup",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last verification run",
		}),

		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last verification run finished",
		}),

		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last verification run completed without errors",
		}),
	}

	m.registry.MustRegister(m.Records, m.QueryDuration, m.RunDuration, m.LastRunTimestamp, m.LastRunSuccess)
	for _, status := range Statuses {
		m.Records.WithLabelValues(status)
	}
	return m
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRecord records one verified name.
func (m *Metrics) ObserveRecord(status string, d time.Duration) {
	if m != nil {
		m.Records.WithLabelValues(status).Inc()
		m.QueryDuration.Observe(d.Seconds())
	}
}

// ObserveRun records the outcome of a run finished at end.
func (m *Metrics) ObserveRun(d time.Duration, success bool, end time.Time) {
	if m == nil {
		return
	}
	m.RunDuration.Set(d.Seconds())
	m.LastRunTimestamp.Set(float64(end.UnixNano()) / float64(time.Second))
	if success {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// WriteTextfile atomically writes all metrics to path for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
