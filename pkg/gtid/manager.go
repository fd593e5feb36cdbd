package gtid

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Checkpoint is the durable replication position: the last GTID written
// to the local oplog together with its timestamp and chained hash.
type Checkpoint struct {
	LastGTID GTID   `json:"last_gtid"`
	LastTs   int64  `json:"last_ts"`
	LastHash uint64 `json:"last_hash"`
}

// CheckpointStore persists the manager's checkpoint across restarts.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context) (Checkpoint, bool, error)
	Close() error
}

// Manager tracks the replication bookkeeping GTIDs:
//
//	lastLive      - highest GTID written to the local oplog
//	lastUnapplied - highest GTID the applier has finished
//	minLive/minUnapplied - lowest in-flight, kept for status reporting
//
// After the pipeline quiesces lastLive == lastUnapplied and
// minLive == minUnapplied.
type Manager struct {
	mu sync.Mutex

	lastLive      GTID
	lastUnapplied GTID
	minLive       GTID
	minUnapplied  GTID

	lastTs   int64
	lastHash uint64

	inflight int

	store CheckpointStore
}

// NewManager creates a manager starting from the given checkpoint.
// The store may be nil, in which case ForceFlush is a no-op.
func NewManager(cp Checkpoint, store CheckpointStore) *Manager {
	return &Manager{
		lastLive:      cp.LastGTID,
		lastUnapplied: cp.LastGTID,
		minLive:       cp.LastGTID,
		minUnapplied:  cp.LastGTID,
		lastTs:        cp.LastTs,
		lastHash:      cp.LastHash,
		store:         store,
	}
}

// NoteGTIDAdded records that an entry with the given GTID, timestamp and
// chained hash was written to the local oplog.
func (m *Manager) NoteGTIDAdded(g GTID, ts int64, hash uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight == 0 {
		m.minLive = g
	}
	m.inflight++
	m.lastLive = g
	m.lastTs = ts
	m.lastHash = hash
}

// NoteApplyingGTID records that the applier has picked up g.
func (m *Manager) NoteApplyingGTID(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minUnapplied = g
}

// NoteGTIDApplied records that the applier finished g.
func (m *Manager) NoteGTIDApplied(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUnapplied = g
	if m.inflight > 0 {
		m.inflight--
	}
	if m.inflight == 0 {
		m.minLive = m.lastLive
		m.minUnapplied = m.lastUnapplied
	}
}

// GetLiveState returns the highest GTID written to the local oplog.
func (m *Manager) GetLiveState() GTID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLive
}

// LiveGTIDs returns (lastLive, lastUnapplied).
func (m *Manager) LiveGTIDs() (GTID, GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLive, m.lastUnapplied
}

// Mins returns (minLive, minUnapplied).
func (m *Manager) Mins() (GTID, GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minLive, m.minUnapplied
}

// RollbackNeeded reports whether the first upstream entry at or beyond
// lastLive disagrees with the local hash chain. The upstream query is
// GTE lastLive, so agreement means the first remote entry is exactly
// our last entry with a matching timestamp and hash. Anything else is
// divergence; the only correct response to divergence is rollback.
func (m *Manager) RollbackNeeded(g GTID, ts int64, hash uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastLive.IsInitial() {
		// fresh node, nothing local to diverge from
		return false
	}
	if Compare(g, m.lastLive) != 0 {
		return true
	}
	return ts != m.lastTs || hash != m.lastHash
}

// ResetAfterInitialSync rewinds all bookkeeping to the given position.
// Callers must have quiesced the pipeline first.
func (m *Manager) ResetAfterInitialSync(g GTID, ts int64, hash uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastLive = g
	m.lastUnapplied = g
	m.minLive = g
	m.minUnapplied = g
	m.lastTs = ts
	m.lastHash = hash
	m.inflight = 0
}

// Snapshot returns the current checkpoint.
func (m *Manager) Snapshot() Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Checkpoint{LastGTID: m.lastLive, LastTs: m.lastTs, LastHash: m.lastHash}
}

// ForceFlush writes the current checkpoint to the store.
func (m *Manager) ForceFlush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	cp := m.Snapshot()
	if err := m.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("gtid: checkpoint flush failed: %w", err)
	}
	return nil
}

// FlushLoop periodically flushes the checkpoint until ctx is cancelled.
func (m *Manager) FlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.ForceFlush(ctx)
		}
	}
}
