package otelz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchMetrics holds the Prometheus metrics of a BatchProcessor.
// A nil *BatchMetrics records nothing.
type BatchMetrics struct {
	QueueLength    prometheus.Gauge
	SpansDropped   prometheus.Counter
	SpansExported  prometheus.Counter
	ExportFailures prometheus.Counter
	ExportDuration prometheus.Histogram
	BatchSize      prometheus.Histogram
}

// NewBatchMetrics creates the metrics and registers them with reg.
// A nil reg leaves them unregistered. Registering twice with the same
// registry and namespace panics.
func NewBatchMetrics(reg prometheus.Registerer, namespace string) *BatchMetrics {
	factory := promauto.With(reg)
	return &BatchMetrics{
		QueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_queue_length",
				Help:      "Number of spans waiting for export",
			},
		),
		SpansDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_dropped_spans_total",
				Help:      "Total number of spans dropped because the queue was full",
			},
		),
		SpansExported: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_exported_spans_total",
				Help:      "Total number of spans handed to the exporter successfully",
			},
		),
		ExportFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_export_failures_total",
				Help:      "Total number of failed batch exports",
			},
		),
		ExportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_export_duration_seconds",
				Help:      "Batch export duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_span_processor_batch_size",
				Help:      "Number of spans per exported batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

func (m *BatchMetrics) setQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

func (m *BatchMetrics) dropped() {
	if m == nil {
		return
	}
	m.SpansDropped.Inc()
}

func (m *BatchMetrics) exported(n int, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ExportDuration.Observe(seconds)
	m.BatchSize.Observe(float64(n))
	if err != nil {
		m.ExportFailures.Inc()
		return
	}
	m.SpansExported.Add(float64(n))
}
