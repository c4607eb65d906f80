// Package procmetrics exposes the Prometheus instrumentation for the
// processor: parse-error counts, checkpoint progress, and batch shape.
package procmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the processor registers.
type Metrics struct {
	ParseErrorsTotal  prometheus.Counter
	MessagesTotal     *prometheus.CounterVec
	BatchSize         *prometheus.HistogramVec
	SendDuration      *prometheus.HistogramVec
	CheckpointOffset  prometheus.Gauge
	StorageErrorTotal *prometheus.CounterVec
}

// New creates and registers a Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ParseErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docops",
			Name:      "parse_errors_total",
			Help:      "Messages dropped because they could not be parsed as JSON.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docops",
			Name:      "messages_total",
			Help:      "Messages routed, labeled by pipeline.",
		}, []string{"pipeline"}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docops",
			Name:      "batch_groups",
			Help:      "Number of distinct keys in a drained batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"pipeline"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docops",
			Name:      "send_duration_seconds",
			Help:      "Latency of a drained batch's storage write.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		CheckpointOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docops",
			Name:      "checkpoint_offset",
			Help:      "Last offset passed to the host checkpoint callback.",
		}),
		StorageErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docops",
			Name:      "storage_errors_total",
			Help:      "Non-duplicate-key storage errors, labeled by store.",
		}, []string{"store"}),
	}

	reg.MustRegister(
		m.ParseErrorsTotal,
		m.MessagesTotal,
		m.BatchSize,
		m.SendDuration,
		m.CheckpointOffset,
		m.StorageErrorTotal,
	)
	return m
}
