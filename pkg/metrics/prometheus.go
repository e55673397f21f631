package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	rowsWritten   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	supplyWindows *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder registered on reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pond_rows_written_total",
				Help: "Total number of rows written to a backend",
			},
			[]string{"backend", "table"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pond_upstream_fetches_total",
				Help: "Total number of upstream kline fetches",
			},
			[]string{"source", "symbol"},
		),
		supplyWindows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pond_supply_windows_total",
				Help: "Gap-fill windows by outcome",
			},
			[]string{"source", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pond_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pond_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRowsWritten adds n rows written to a backend table.
func (r *Recorder) RecordRowsWritten(backend, table string, n int) {
	r.rowsWritten.WithLabelValues(backend, table).Add(float64(n))
}

// RecordFetch records one upstream call.
func (r *Recorder) RecordFetch(source, symbol string) {
	r.fetches.WithLabelValues(source, symbol).Inc()
}

// RecordSupplyWindow records the outcome of one gap-fill window.
func (r *Recorder) RecordSupplyWindow(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.supplyWindows.WithLabelValues(source, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
