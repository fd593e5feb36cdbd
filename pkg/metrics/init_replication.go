package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplEntriesReplicatedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_repl_entries_replicated_total",
			Help: "Total number of oplog entries fetched and written to the local oplog",
		},
	)

	r.ReplEntriesAppliedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_repl_entries_applied_total",
			Help: "Total number of oplog entries applied to local state",
		},
	)

	r.ReplApplyFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_repl_apply_failures_total",
			Help: "Total number of failed apply attempts (each failure is retried)",
		},
	)

	r.ReplOplogWriteDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docstore_repl_oplog_write_duration_seconds",
			Help:    "Time spent durably writing one replicated entry to the local oplog",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.ReplQueueDepth = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_repl_queue_depth",
			Help: "Entries currently buffered between the producer and the applier",
		},
	)

	r.ReplRollbacksTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_repl_rollbacks_total",
			Help: "Total number of rollbacks started",
		},
	)

	r.ReplEntriesRolledBackTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docstore_repl_entries_rolled_back_total",
			Help: "Total number of local oplog entries undone by rollbacks",
		},
	)

	r.ReplSyncTarget = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docstore_repl_sync_target",
			Help: "1 for the member currently being synced from",
		},
		[]string{"host"},
	)

	r.ReplLagSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_repl_lag_seconds",
			Help: "Replication lag in seconds",
		},
	)
}
