package repl

import (
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
)

// MemberState is the replica-set state of the local node.
type MemberState int

const (
	StateStartup MemberState = iota
	StatePrimary
	StateSecondary
	StateRollback
	StateStale
	StateFatal
)

// String returns the state name used in logs and status output.
func (s MemberState) String() string {
	switch s {
	case StateStartup:
		return "STARTUP"
	case StatePrimary:
		return "PRIMARY"
	case StateSecondary:
		return "SECONDARY"
	case StateRollback:
		return "ROLLBACK"
	case StateStale:
		return "STALE"
	case StateFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether the state is terminal.
func (s MemberState) Fatal() bool {
	return s == StateFatal
}

// Startup reports whether the node is still starting up.
func (s MemberState) Startup() bool {
	return s == StateStartup
}

// Member identifies one replica-set member.
type Member struct {
	ID   string `json:"id"`
	Host string `json:"host"`
}

// ReplicaSetState is the slice of the cluster-membership subsystem the
// replication core consumes. Fatal and GoStale are terminal: once
// entered, the producer short-circuits until an operator intervenes.
type ReplicaSetState interface {
	State() MemberState
	IsPrimary() bool

	// SlaveDelay is the operator-configured lag between upstream
	// commit time and local apply time.
	SlaveDelay() time.Duration

	// Members returns the configured members, local node included.
	Members() []Member

	// MemberToSyncTo returns the next preferred candidate that is not
	// currently vetoed, or nil.
	MemberToSyncTo() *Member

	// Veto excludes host from selection for the given duration.
	Veto(host string, d time.Duration)

	// TargetHealthy reports whether the member's heartbeat state is
	// still readable.
	TargetHealthy(host string) bool

	// GoStale transitions to the terminal requires-resync state.
	GoStale(stale Member, remoteOldest gtid.GTID)

	GoToRollbackState()
	LeaveRollbackState()
	Fatal()

	// GotForceSync reports (and clears) a pending force-resync
	// request, so the producer restarts target selection.
	GotForceSync() bool

	// CheckSingleMemberState pokes the state machine in a one-member
	// set, where no heartbeat traffic drives transitions.
	CheckSingleMemberState()

	// SetHealthMessage records the node's replication health message.
	SetHealthMessage(msg string)

	// ForceUpdateReplInfo flushes durable replication info after a
	// bookkeeping reset.
	ForceUpdateReplInfo()
}
