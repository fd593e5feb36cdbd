package repl

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSyncTarget means no candidate upstream accepted selection.
	ErrNoSyncTarget = errors.New("repl: no sync target available")

	// ErrStaleReplica means every viable upstream's oldest entry is
	// newer than our position; the node needs a full resync.
	ErrStaleReplica = errors.New("repl: replica is stale relative to all sync targets")

	// ErrShutdown means the operation was interrupted by shutdown.
	ErrShutdown = errors.New("repl: shutting down")

	// ErrQueueClosed is returned by queue waits after Shutdown.
	ErrQueueClosed = errors.New("repl: op queue closed")

	// errEmptyRemoteOplog is a staleness-probe failure; the candidate
	// has nothing to serve.
	errEmptyRemoteOplog = errors.New("repl: remote oplog is empty")
)

// RollbackError is raised when the rollback path cannot complete. A
// fatal rollback error takes the replica set to the FATAL state.
type RollbackError struct {
	Reason string
	Err    error
}

func (e *RollbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repl: rollback failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("repl: rollback failed: %s", e.Reason)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// newRollbackError wraps err with a rollback reason.
func newRollbackError(reason string, err error) *RollbackError {
	return &RollbackError{Reason: reason, Err: err}
}

var (
	// ErrRollbackTooOld means the common ancestor lies beyond the
	// rollback window on the upstream oplog.
	ErrRollbackTooOld = &RollbackError{Reason: "too long a time period for a rollback (at least 30 minutes)"}

	// ErrNoRollbackAncestor means the backward scan exhausted the
	// upstream oplog without finding a common ancestor.
	ErrNoRollbackAncestor = &RollbackError{Reason: "could not find ID to rollback to"}
)
