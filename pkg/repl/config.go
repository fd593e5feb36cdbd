package repl

import (
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/validation"
)

// Flow-control watermarks. The producer blocks once the apply queue
// holds HighWatermark entries and resumes when the applier drains it
// down to LowWatermark.
const (
	DefaultHighWatermark = 20000
	DefaultLowWatermark  = 10000
)

const (
	// DefaultConnectVeto excludes a candidate after a failed connect.
	DefaultConnectVeto = 10 * time.Second

	// DefaultStaleVeto excludes a candidate whose oldest oplog entry
	// is ahead of our position.
	DefaultStaleVeto = 600 * time.Second

	// DefaultRollbackHorizon bounds how far back on the upstream
	// oplog the rollback ancestor scan may reach.
	DefaultRollbackHorizon = 30 * time.Minute
)

// SyncConfig configures the background sync pipeline.
type SyncConfig struct {
	// OplogNamespace is the oplog collection name on the upstream.
	OplogNamespace string

	// HighWatermark / LowWatermark bound the apply queue.
	HighWatermark int
	LowWatermark  int

	// SlaveDelay is not read by BackgroundSync; the producer takes the
	// delay from ReplicaSetState.SlaveDelay.
	SlaveDelay time.Duration

	// ConnectVeto / StaleVeto control sync-target exclusion.
	ConnectVeto time.Duration
	StaleVeto   time.Duration

	// RollbackHorizon bounds the rollback ancestor scan.
	RollbackHorizon time.Duration

	// FetchBatchSize is the max entries per feed pull.
	FetchBatchSize int

	// TailPollTimeout is validated and defaulted but not sent to the
	// feed; a tail pull is answered at once, with an empty batch when
	// there are no new entries.
	TailPollTimeout time.Duration

	// SocketTimeout bounds blocking reads on the feed connection.
	SocketTimeout time.Duration
}

// DefaultSyncConfig returns the default pipeline configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		OplogNamespace:  "local.oplog.rs",
		HighWatermark:   DefaultHighWatermark,
		LowWatermark:    DefaultLowWatermark,
		SlaveDelay:      0,
		ConnectVeto:     DefaultConnectVeto,
		StaleVeto:       DefaultStaleVeto,
		RollbackHorizon: DefaultRollbackHorizon,
		FetchBatchSize:  256,
		TailPollTimeout: 1 * time.Second,
		SocketTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration.
func (c *SyncConfig) Validate() error {
	v := validation.NewConfigValidator("SyncConfig")

	v.Required("OplogNamespace", c.OplogNamespace).
		MinInt("HighWatermark", c.HighWatermark, 1).
		MinInt("LowWatermark", c.LowWatermark, 0).
		MinInt("FetchBatchSize", c.FetchBatchSize, 1).
		MinDuration("RollbackHorizon", c.RollbackHorizon, time.Minute).
		MinDuration("TailPollTimeout", c.TailPollTimeout, 10*time.Millisecond)

	if c.LowWatermark >= c.HighWatermark {
		v.Fail("LowWatermark", "must be below HighWatermark")
	}

	return v.Validate()
}

// ApplyDefaults fills zero-valued fields from DefaultSyncConfig.
func (c *SyncConfig) ApplyDefaults() {
	defaults := DefaultSyncConfig()

	if c.OplogNamespace == "" {
		c.OplogNamespace = defaults.OplogNamespace
	}
	c.HighWatermark = validation.DefaultOrInt(c.HighWatermark, defaults.HighWatermark)
	c.LowWatermark = validation.DefaultOrInt(c.LowWatermark, defaults.LowWatermark)
	c.ConnectVeto = validation.DefaultOrDuration(c.ConnectVeto, defaults.ConnectVeto)
	c.StaleVeto = validation.DefaultOrDuration(c.StaleVeto, defaults.StaleVeto)
	c.RollbackHorizon = validation.DefaultOrDuration(c.RollbackHorizon, defaults.RollbackHorizon)
	c.FetchBatchSize = validation.DefaultOrInt(c.FetchBatchSize, defaults.FetchBatchSize)
	c.TailPollTimeout = validation.DefaultOrDuration(c.TailPollTimeout, defaults.TailPollTimeout)
	c.SocketTimeout = validation.DefaultOrDuration(c.SocketTimeout, defaults.SocketTimeout)
}
