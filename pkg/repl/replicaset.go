package repl

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// ReplicaSet is the default ReplicaSetState implementation: a static
// member list with veto bookkeeping, a state machine for the local
// node, and a health message slot. Heartbeat-driven state transitions
// live in the membership subsystem; this type only tracks what the
// replication core needs.
type ReplicaSet struct {
	mu sync.RWMutex

	selfID     string
	state      MemberState
	members    []Member
	vetoes     map[string]time.Time
	healthy    map[string]bool
	slaveDelay time.Duration

	forceSync     bool
	healthMessage string

	replInfoFlush func()

	logger *logging.JSONLogger
}

// ReplicaSetOption configures a ReplicaSet.
type ReplicaSetOption func(*ReplicaSet)

// WithSlaveDelay sets the operator-configured apply lag.
func WithSlaveDelay(d time.Duration) ReplicaSetOption {
	return func(rs *ReplicaSet) { rs.slaveDelay = d }
}

// WithReplInfoFlush sets the hook invoked by ForceUpdateReplInfo.
func WithReplInfoFlush(fn func()) ReplicaSetOption {
	return func(rs *ReplicaSet) { rs.replInfoFlush = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.JSONLogger) ReplicaSetOption {
	return func(rs *ReplicaSet) { rs.logger = logger }
}

// NewReplicaSet creates a replica set view with the given upstream
// candidates, in preference order. The local node starts in STARTUP.
func NewReplicaSet(members []Member, opts ...ReplicaSetOption) *ReplicaSet {
	rs := &ReplicaSet{
		selfID:  uuid.NewString(),
		state:   StateStartup,
		members: members,
		vetoes:  make(map[string]time.Time),
		healthy: make(map[string]bool),
		logger:  logging.NewDefaultLogger(),
	}
	for i := range rs.members {
		if rs.members[i].ID == "" {
			rs.members[i].ID = uuid.NewString()
		}
		rs.healthy[rs.members[i].Host] = true
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// SelfID returns the local node's identifier.
func (rs *ReplicaSet) SelfID() string {
	return rs.selfID
}

// BecomeSecondary transitions the node out of STARTUP.
func (rs *ReplicaSet) BecomeSecondary() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.state = StateSecondary
}

// State returns the local node's state.
func (rs *ReplicaSet) State() MemberState {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.state
}

// IsPrimary reports whether the local node is primary. The secondary
// core never runs on a primary; callers assert this at batch
// boundaries.
func (rs *ReplicaSet) IsPrimary() bool {
	return rs.State() == StatePrimary
}

// SlaveDelay returns the configured apply lag.
func (rs *ReplicaSet) SlaveDelay() time.Duration {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.slaveDelay
}

// Members returns the configured members.
func (rs *ReplicaSet) Members() []Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Member, len(rs.members))
	copy(out, rs.members)
	return out
}

// MemberToSyncTo returns the first candidate whose veto has expired.
func (rs *ReplicaSet) MemberToSyncTo() *Member {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := time.Now()
	for i := range rs.members {
		m := rs.members[i]
		if until, vetoed := rs.vetoes[m.Host]; vetoed {
			if now.Before(until) {
				continue
			}
			delete(rs.vetoes, m.Host)
		}
		return &m
	}
	return nil
}

// Veto excludes host from selection until the duration elapses.
func (rs *ReplicaSet) Veto(host string, d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.vetoes[host] = time.Now().Add(d)
	rs.logger.Debug("vetoed sync candidate",
		logging.String("host", host),
		logging.Duration("for", d))
}

// TargetHealthy reports the member's last known heartbeat health.
func (rs *ReplicaSet) TargetHealthy(host string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.healthy[host]
}

// SetMemberHealth records a heartbeat result for a member.
func (rs *ReplicaSet) SetMemberHealth(host string, healthy bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.healthy[host] = healthy
}

// GoStale transitions to the terminal requires-resync state.
func (rs *ReplicaSet) GoStale(stale Member, remoteOldest gtid.GTID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.state == StateStale {
		return
	}
	rs.state = StateStale
	rs.healthMessage = "too stale to catch up, need full resync"
	rs.logger.Error("replica too stale to catch up",
		logging.String("candidate", stale.Host),
		logging.String("remote_oldest", remoteOldest.String()))
}

// GoToRollbackState enters ROLLBACK.
func (rs *ReplicaSet) GoToRollbackState() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.state = StateRollback
	rs.logger.Warn("entering rollback state")
}

// LeaveRollbackState returns to SECONDARY.
func (rs *ReplicaSet) LeaveRollbackState() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.state = StateSecondary
	rs.logger.Info("leaving rollback state")
}

// Fatal transitions to the terminal FATAL state.
func (rs *ReplicaSet) Fatal() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.state = StateFatal
	rs.logger.Error("replica set entering fatal state",
		logging.String("health", rs.healthMessage))
}

// RequestForceSync asks the producer to restart target selection.
func (rs *ReplicaSet) RequestForceSync() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.forceSync = true
}

// GotForceSync reports and clears a pending force-sync request.
func (rs *ReplicaSet) GotForceSync() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	got := rs.forceSync
	rs.forceSync = false
	return got
}

// CheckSingleMemberState re-evaluates state in a one-member set. With
// no peers there is nothing to sync; a stepped-down former primary
// comes back up as secondary here.
func (rs *ReplicaSet) CheckSingleMemberState() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state == StateStartup {
		rs.state = StateSecondary
	}
}

// SetHealthMessage records the replication health message.
func (rs *ReplicaSet) SetHealthMessage(msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.healthMessage = msg
}

// HealthMessage returns the current health message.
func (rs *ReplicaSet) HealthMessage() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.healthMessage
}

// ForceUpdateReplInfo flushes durable replication info.
func (rs *ReplicaSet) ForceUpdateReplInfo() {
	rs.mu.RLock()
	flush := rs.replInfoFlush
	rs.mu.RUnlock()
	if flush != nil {
		flush()
	}
}
