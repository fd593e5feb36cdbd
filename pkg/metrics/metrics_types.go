package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Replication pipeline metrics
	ReplEntriesReplicatedTotal prometheus.Counter
	ReplEntriesAppliedTotal    prometheus.Counter
	ReplApplyFailuresTotal     prometheus.Counter
	ReplOplogWriteDuration     prometheus.Histogram
	ReplQueueDepth             prometheus.Gauge
	ReplRollbacksTotal         prometheus.Counter
	ReplEntriesRolledBackTotal prometheus.Counter
	ReplSyncTarget             *prometheus.GaugeVec
	ReplLagSeconds             prometheus.Gauge

	// Feed metrics
	FeedRequestsTotal     *prometheus.CounterVec
	FeedAuthFailuresTotal prometheus.Counter

	// Oplog storage metrics
	OplogEntriesTotal  prometheus.Gauge
	OplogSizeBytes     prometheus.Gauge
	OplogAppendsTotal  prometheus.Counter
	OplogTruncationsTotal prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initReplicationMetrics()
	r.initFeedMetrics()
	r.initOplogMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
