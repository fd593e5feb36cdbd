package metrics

import (
	"time"
)

// RecordEntryReplicated records one entry fetched from the upstream and
// durably written to the local oplog.
func (r *Registry) RecordEntryReplicated(writeDuration time.Duration) {
	r.ReplEntriesReplicatedTotal.Inc()
	r.ReplOplogWriteDuration.Observe(writeDuration.Seconds())
}

// SetQueueDepth sets the producer/applier queue depth.
func (r *Registry) SetQueueDepth(n int) {
	r.ReplQueueDepth.Set(float64(n))
}

// IncEntriesApplied records one entry applied to local state.
func (r *Registry) IncEntriesApplied() {
	r.ReplEntriesAppliedTotal.Inc()
}

// IncApplyFailures records one failed apply attempt.
func (r *Registry) IncApplyFailures() {
	r.ReplApplyFailuresTotal.Inc()
}

// IncRollbacks records a rollback starting.
func (r *Registry) IncRollbacks() {
	r.ReplRollbacksTotal.Inc()
}

// IncEntriesRolledBack records one local oplog entry undone.
func (r *Registry) IncEntriesRolledBack() {
	r.ReplEntriesRolledBackTotal.Inc()
}

// SetSyncTarget marks host as the current sync target. Earlier targets
// are cleared so at most one host reports 1.
func (r *Registry) SetSyncTarget(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReplSyncTarget.Reset()
	r.ReplSyncTarget.WithLabelValues(host).Set(1)
}

// SetReplicationLag sets the observed apply lag.
func (r *Registry) SetReplicationLag(lag time.Duration) {
	r.ReplLagSeconds.Set(lag.Seconds())
}

// IncFeedRequests records one feed request by operation.
func (r *Registry) IncFeedRequests(op string) {
	r.FeedRequestsTotal.WithLabelValues(op).Inc()
}

// IncFeedAuthFailures records a rejected feed request.
func (r *Registry) IncFeedAuthFailures() {
	r.FeedAuthFailuresTotal.Inc()
}

// UpdateOplogStats sets the oplog size gauges.
func (r *Registry) UpdateOplogStats(entries int, sizeBytes int64) {
	r.OplogEntriesTotal.Set(float64(entries))
	r.OplogSizeBytes.Set(float64(sizeBytes))
}

// IncOplogAppends records one oplog append.
func (r *Registry) IncOplogAppends() {
	r.OplogAppendsTotal.Inc()
}

// IncOplogTruncations records one oplog tail truncation.
func (r *Registry) IncOplogTruncations() {
	r.OplogTruncationsTotal.Inc()
}
