package repl

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// ApplierThread is the applier worker's entry point. It drains the
// queue until Shutdown closes it and the queue is empty.
//
// Entries are popped only after a successful apply, so at every moment
// minUnapplied is covered either by the queue or by the entry being
// applied. An apply failure is retried on the same entry forever; the
// oplog already holds it durably, skipping would diverge local state.
func (s *BackgroundSync) ApplierThread() {
	s.applierInProgress.Store(true)
	defer s.applierInProgress.Store(false)

	for {
		e, ok := s.queue.Front()
		if !ok {
			return
		}

		s.mgr.NoteApplyingGTID(e.ID)

		if err := s.applyOne(e); err != nil {
			s.rs.SetHealthMessage(fmt.Sprintf("error in applier: %v", err))
			s.logger.Error("failed to apply entry, will retry",
				logging.GTID("gtid", e.ID), logging.Error(err))
			if s.metrics != nil {
				s.metrics.IncApplyFailures()
			}
			time.Sleep(2 * time.Second)
			continue
		}

		s.mgr.NoteGTIDApplied(e.ID)
		s.queue.PopFront()

		if s.metrics != nil {
			s.metrics.IncEntriesApplied()
			s.metrics.SetQueueDepth(s.queue.Len())
		}
	}
}

// applyOne applies a single entry, converting a storage-engine panic
// into an error so the worker survives and retries.
func (s *BackgroundSync) applyOne(e oplog.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", e.ID, r)
		}
	}()
	return s.store.ApplyTransactionFromOplog(e)
}
