// Package metrics exposes Prometheus counters for the pricing engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the engine's metrics behind one Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	BatchesStarted   prometheus.Counter
	BatchesCompleted prometheus.Counter
	BatchesCancelled prometheus.Counter
	RowsIngested     prometheus.Counter
	RowsRetracted    prometheus.Counter
	WritesRejected   prometheus.Counter
	QueryDuration    prometheus.Histogram
}

// NewRegistry creates and registers all engine metrics.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	started := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_batches_started_total"})
	completed := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_batches_completed_total"})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_batches_cancelled_total"})
	rows := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_rows_ingested_total"})
	retracted := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_rows_retracted_total"})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "pricing_writes_rejected_total"})
	queryDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_last_price_query_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(started, completed, cancelled, rows, retracted, rejected, queryDur)
	return &Registry{
		reg:              r,
		BatchesStarted:   started,
		BatchesCompleted: completed,
		BatchesCancelled: cancelled,
		RowsIngested:     rows,
		RowsRetracted:    retracted,
		WritesRejected:   rejected,
		QueryDuration:    queryDur,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
