package bookie

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink is the external metrics collaborator named in spec.md §6:
// `register_successful_event(op, latency)` and
// `register_failed_event(op, latency)`.
type MetricsSink interface {
	RegisterSuccessfulEvent(op OperationType, latency time.Duration)
	RegisterFailedEvent(op OperationType, latency time.Duration)
}

// NoopMetrics discards every sample. It is the default when a
// ClientConfig does not supply a sink.
type NoopMetrics struct{}

func (NoopMetrics) RegisterSuccessfulEvent(OperationType, time.Duration) {}
func (NoopMetrics) RegisterFailedEvent(OperationType, time.Duration)    {}

// PrometheusMetrics records per-operation latency samples into a
// histogram labelled by operation and outcome, following the same
// client_golang histogram-vec pattern used elsewhere in the pack for
// request-latency metrics.
type PrometheusMetrics struct {
	latency *prometheus.HistogramVec
}

// NewPrometheusMetrics registers a latency histogram on the given
// registerer (pass prometheus.DefaultRegisterer for the global
// registry) and returns a sink ready for use by a Client.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bookie_client",
		Name:      "request_latency_seconds",
		Help:      "Latency of add/read entry requests against a single bookie peer.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "outcome"})
	reg.MustRegister(hv)
	return &PrometheusMetrics{latency: hv}
}

func (p *PrometheusMetrics) RegisterSuccessfulEvent(op OperationType, latency time.Duration) {
	p.latency.WithLabelValues(op.String(), "success").Observe(latency.Seconds())
}

func (p *PrometheusMetrics) RegisterFailedEvent(op OperationType, latency time.Duration) {
	p.latency.WithLabelValues(op.String(), "failure").Observe(latency.Seconds())
}
