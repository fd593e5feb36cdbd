package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gatherMetric(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	mf := gatherMetric(t, r, name)
	if mf == nil {
		t.Fatalf("metric %s not registered", name)
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}

func gaugeValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	mf := gatherMetric(t, r, name)
	if mf == nil {
		t.Fatalf("metric %s not registered", name)
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordEntryReplicated(5 * time.Millisecond)
	r.RecordEntryReplicated(5 * time.Millisecond)
	r.IncEntriesApplied()
	r.IncApplyFailures()
	r.IncRollbacks()
	r.IncEntriesRolledBack()
	r.IncOplogAppends()
	r.IncOplogTruncations()
	r.IncFeedAuthFailures()

	tests := []struct {
		name string
		want float64
	}{
		{"docstore_repl_entries_replicated_total", 2},
		{"docstore_repl_entries_applied_total", 1},
		{"docstore_repl_apply_failures_total", 1},
		{"docstore_repl_rollbacks_total", 1},
		{"docstore_repl_entries_rolled_back_total", 1},
		{"docstore_oplog_appends_total", 1},
		{"docstore_oplog_truncations_total", 1},
		{"docstore_feed_auth_failures_total", 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, r, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRegistryGauges(t *testing.T) {
	r := NewRegistry()

	r.SetQueueDepth(42)
	if got := gaugeValue(t, r, "docstore_repl_queue_depth"); got != 42 {
		t.Errorf("queue depth = %v, want 42", got)
	}

	r.SetReplicationLag(1500 * time.Millisecond)
	if got := gaugeValue(t, r, "docstore_repl_lag_seconds"); got != 1.5 {
		t.Errorf("lag = %v, want 1.5", got)
	}

	r.UpdateOplogStats(100, 4096)
	if got := gaugeValue(t, r, "docstore_oplog_entries"); got != 100 {
		t.Errorf("oplog entries = %v, want 100", got)
	}
	if got := gaugeValue(t, r, "docstore_oplog_size_bytes"); got != 4096 {
		t.Errorf("oplog size = %v, want 4096", got)
	}
}

// TestSyncTargetSingleHost tests that switching targets clears the old
// host so at most one host reports 1.
func TestSyncTargetSingleHost(t *testing.T) {
	r := NewRegistry()

	r.SetSyncTarget("db1.internal:9201")
	r.SetSyncTarget("db2.internal:9201")

	mf := gatherMetric(t, r, "docstore_repl_sync_target")
	if mf == nil {
		t.Fatal("sync target metric not registered")
	}
	if len(mf.GetMetric()) != 1 {
		t.Fatalf("sync target carries %d series, want 1", len(mf.GetMetric()))
	}
	m := mf.GetMetric()[0]
	if m.GetLabel()[0].GetValue() != "db2.internal:9201" {
		t.Errorf("sync target host = %s, want db2.internal:9201", m.GetLabel()[0].GetValue())
	}
	if m.GetGauge().GetValue() != 1 {
		t.Errorf("sync target value = %v, want 1", m.GetGauge().GetValue())
	}
}

func TestFeedRequestsByOp(t *testing.T) {
	r := NewRegistry()

	r.IncFeedRequests("tail")
	r.IncFeedRequests("tail")
	r.IncFeedRequests("handshake")

	mf := gatherMetric(t, r, "docstore_feed_requests_total")
	if mf == nil {
		t.Fatal("feed requests metric not registered")
	}
	byOp := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		byOp[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if byOp["tail"] != 2 || byOp["handshake"] != 1 {
		t.Errorf("feed requests by op = %v, want tail=2 handshake=1", byOp)
	}
}

func TestDefaultRegistrySingleton(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry must return the same instance")
	}
}
