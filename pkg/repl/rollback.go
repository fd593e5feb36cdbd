package repl

import (
	"fmt"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// isRollbackRequired reads the first entry of the freshly opened
// tailing cursor and compares it against the local hash chain. The
// query was GTE lastLive, so on a healthy stream that first entry is
// exactly our newest local entry. On a node with history, anything
// else, including an empty stream, means the upstream's history has
// diverged from ours and a rollback runs immediately. A fresh node
// never rolls back here.
//
// pending is non-nil only on a fresh node: its first remote entry is
// consumed by this check but still has to be replicated.
func (s *BackgroundSync) isRollbackRequired(r OplogReader) (rolledBack bool, pending *oplog.Entry, err error) {
	lastLive := s.mgr.GetLiveState()

	if !r.More() {
		if lastLive.IsInitial() {
			// fresh node, idle upstream: nothing to do yet
			return false, nil, nil
		}
		// our position no longer exists upstream
		cp := s.mgr.Snapshot()
		if err := s.runRollback(r, cp.LastTs); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	o, err := r.NextSafe()
	if err != nil {
		return false, nil, err
	}

	if s.mgr.RollbackNeeded(o.ID, o.Ts, o.Hash) {
		if err := s.runRollback(r, o.Ts); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	if lastLive.IsInitial() {
		return false, &o, nil
	}
	// the entry was our own last entry, already applied
	return false, nil, nil
}

// runRollback rewinds local state to the newest entry shared with the
// upstream, then lets the producer restart from there. horizonTs is the
// timestamp that triggered the rollback; the backward scan refuses to
// cross cfg.RollbackHorizon behind it.
func (s *BackgroundSync) runRollback(r OplogReader, horizonTs int64) error {
	rbid := s.rbid.Add(1)
	s.logger.Warn("beginning rollback",
		logging.Uint64("rbid", rbid),
		logging.GTID("last_live", s.mgr.GetLiveState()))
	if s.metrics != nil {
		s.metrics.IncRollbacks()
	}

	ancestor, err := s.findCommonAncestor(r, horizonTs)
	if err != nil {
		return err
	}
	s.logger.Info("found common rollback ancestor",
		logging.GTID("ancestor", ancestor.ID))

	// Quiesce the applier. The producer stopped enqueueing when it
	// called us, so an empty queue stays empty.
	s.queue.WaitUntilDrained()
	if s.shouldExit.Load() {
		return newRollbackError("interrupted by shutdown", ErrShutdown)
	}
	if err := s.verifySettled(); err != nil {
		return newRollbackError("pipeline not settled", err)
	}

	if s.invalidateCursors != nil {
		s.invalidateCursors()
	}
	if s.abortLiveTransactions != nil {
		s.abortLiveTransactions()
	}
	s.rs.GoToRollbackState()

	s.mgr.ResetAfterInitialSync(ancestor.ID, ancestor.Ts, ancestor.Hash)
	s.rs.ForceUpdateReplInfo()

	if err := s.undoToAncestor(rbid, ancestor.ID); err != nil {
		return err
	}

	s.rs.LeaveRollbackState()
	s.logger.Info("rollback complete",
		logging.Uint64("rbid", rbid),
		logging.GTID("ancestor", ancestor.ID))
	return nil
}

// findCommonAncestor scans the upstream oplog backwards from lastLive
// until it hits an entry that also exists locally with the same
// timestamp and hash.
func (s *BackgroundSync) findCommonAncestor(r OplogReader, horizonTs int64) (oplog.Entry, error) {
	cur, err := r.RollbackCursor(s.mgr.GetLiveState())
	if err != nil {
		return oplog.Entry{}, newRollbackError("could not open rollback cursor", err)
	}
	defer cur.Close()

	horizonMs := s.cfg.RollbackHorizon.Milliseconds()
	for cur.More() {
		remote, err := cur.Next()
		if err != nil {
			return oplog.Entry{}, newRollbackError("rollback cursor read failed", err)
		}
		if remote.Ts+horizonMs < horizonTs {
			return oplog.Entry{}, ErrRollbackTooOld
		}

		local, found, err := s.store.FindByGTID(remote.ID)
		if err != nil {
			return oplog.Entry{}, newRollbackError("local ancestor lookup failed", err)
		}
		if found && local.Ts == remote.Ts && local.Hash == remote.Hash {
			return local, nil
		}
	}
	return oplog.Entry{}, ErrNoRollbackAncestor
}

// undoToAncestor pops local oplog entries newest-first, undoing each,
// until the newest local entry is the ancestor itself.
func (s *BackgroundSync) undoToAncestor(rbid uint64, ancestor gtid.GTID) error {
	for {
		last, ok, err := s.store.LastEntry()
		if err != nil {
			return newRollbackError("could not read local oplog tail", err)
		}
		if !ok {
			return newRollbackError(
				fmt.Sprintf("local oplog empty before reaching ancestor %s", ancestor), nil)
		}

		switch c := gtid.Compare(last.ID, ancestor); {
		case c == 0:
			return nil
		case c < 0:
			return newRollbackError(
				fmt.Sprintf("local oplog tail %s fell below ancestor %s", last.ID, ancestor), nil)
		}

		if s.archive != nil {
			if err := s.archive.Save(rbid, last); err != nil {
				s.logger.Warn("could not archive rolled-back entry",
					logging.GTID("gtid", last.ID), logging.Error(err))
			}
		}
		if err := s.store.RollbackTransactionFromOplog(last); err != nil {
			return newRollbackError(fmt.Sprintf("undo of %s failed", last.ID), err)
		}
		if s.metrics != nil {
			s.metrics.IncEntriesRolledBack()
		}
	}
}
