// Package metrics registers the Prometheus instruments for the sync
// pipeline and the HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the registry and instruments so tests can build an
// isolated set instead of sharing process-global collectors.
type Metrics struct {
	registry *prometheus.Registry

	RowsInserted prometheus.Counter
	RowsUpdated  prometheus.Counter
	RowsFailed   prometheus.Counter

	SheetSyncs   *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "adsdash_sync_rows_inserted_total",
			Help: "Fact rows created by sheet syncs.",
		}),
		RowsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "adsdash_sync_rows_updated_total",
			Help: "Fact rows overwritten by sheet syncs.",
		}),
		RowsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "adsdash_sync_rows_failed_total",
			Help: "Fact rows that failed to upsert.",
		}),
		SheetSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adsdash_sheet_syncs_total",
			Help: "Per-sheet sync outcomes.",
		}, []string{"sheet", "result"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adsdash_sync_duration_seconds",
			Help:    "Wall time of full sync runs.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adsdash_http_requests_total",
			Help: "HTTP requests by path and status.",
		}, []string{"path", "status"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
