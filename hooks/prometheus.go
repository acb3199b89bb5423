package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a core.MetricsCollector exporting pipeline
// observations as Prometheus series.
type PrometheusMetrics struct {
	stageSeconds *prometheus.HistogramVec
	stageErrors  *prometheus.CounterVec
	fetchBytes   prometheus.Counter
	decodeBytes  prometheus.Counter
}

// NewPrometheusMetrics registers the pipeline collectors with reg.
// Pass prometheus.DefaultRegisterer for the process-global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imageloader",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageloader",
			Name:      "stage_errors_total",
			Help:      "Errors observed per pipeline stage.",
		}, []string{"stage", "category"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imageloader",
			Name:      "fetched_bytes_total",
			Help:      "Raw bytes fetched from all sources.",
		}),
		decodeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imageloader",
			Name:      "decode_reserved_bytes_total",
			Help:      "Decoded-byte budget reservations made.",
		}),
	}
	reg.MustRegister(m.stageSeconds, m.stageErrors, m.fetchBytes, m.decodeBytes)
	return m
}

func (m *PrometheusMetrics) RecordStageTime(stage string, d time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordFetchBytes(n int64) {
	m.fetchBytes.Add(float64(n))
}

func (m *PrometheusMetrics) RecordDecodeBytes(n int64) {
	m.decodeBytes.Add(float64(n))
}

func (m *PrometheusMetrics) RecordError(stage string, category string) {
	m.stageErrors.WithLabelValues(stage, category).Inc()
}
