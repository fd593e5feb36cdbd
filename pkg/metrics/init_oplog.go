package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initOplogMetrics() {
	r.OplogEntriesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_oplog_entries",
			Help: "Entries currently in the local oplog",
		},
	)

	r.OplogSizeBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_oplog_size_bytes",
			Help: "Size of the local oplog file in bytes",
		},
	)

	r.OplogAppendsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_oplog_appends_total",
			Help: "Total number of entries appended to the local oplog",
		},
	)

	r.OplogTruncationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_oplog_truncations_total",
			Help: "Total number of tail truncations (rollback undo or crash recovery)",
		},
	)
}
