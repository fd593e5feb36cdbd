package repl

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// StopOpSyncThread pauses the producer and waits for the pipeline to
// settle: the producer parked on its pause condition and the queue
// fully drained by the applier. An unsettled pipeline at this point
// means replication state is corrupt and the member goes fatal.
func (s *BackgroundSync) StopOpSyncThread() {
	s.mu.Lock()
	s.shouldRun = false
	s.canRun.Broadcast()
	for s.running {
		s.runningChanged.Wait()
	}
	s.mu.Unlock()

	s.queue.WaitUntilDrained()

	if err := s.verifySettled(); err != nil {
		s.logger.Error("pipeline stopped unsettled", logging.Error(err))
		s.rs.SetHealthMessage(fmt.Sprintf("pipeline stopped unsettled: %v", err))
		s.rs.Fatal()
	}
}

// StartOpSyncThread resumes a paused producer and waits until it is
// running again. It is a no-op after Shutdown.
func (s *BackgroundSync) StartOpSyncThread() {
	if err := s.verifySettled(); err != nil {
		s.logger.Error("pipeline starting unsettled", logging.Error(err))
		s.rs.SetHealthMessage(fmt.Sprintf("pipeline starting unsettled: %v", err))
		s.rs.Fatal()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldExit.Load() {
		return
	}
	s.shouldRun = true
	s.canRun.Broadcast()
	for !s.running && !s.shouldExit.Load() {
		s.runningChanged.Wait()
	}
}

// Shutdown terminates both workers. It parks the producer first so no
// new entries arrive, then closes the queue so the applier drains what
// is left and exits. Safe to call once; the pipeline cannot be
// restarted afterwards.
func (s *BackgroundSync) Shutdown() {
	s.mu.Lock()
	s.shouldExit.Store(true)
	s.shouldRun = false
	s.canRun.Broadcast()
	s.runningChanged.Broadcast()
	s.mu.Unlock()

	for s.producerInProgress.Load() {
		time.Sleep(1 * time.Second)
		s.mu.Lock()
		s.canRun.Broadcast()
		s.mu.Unlock()
	}

	s.queue.Close()
	for s.applierInProgress.Load() {
		time.Sleep(1 * time.Second)
	}

	s.logger.Info("background sync shut down")
}

// verifySettled checks the quiescent-pipeline invariants: with the
// queue empty and no apply in flight, the live and unapplied GTID pairs
// must agree.
func (s *BackgroundSync) verifySettled() error {
	if n := s.queue.Len(); n != 0 {
		return fmt.Errorf("queue not empty: %d entries", n)
	}
	lastLive, lastUnapplied := s.mgr.LiveGTIDs()
	if gtid.Compare(lastLive, lastUnapplied) != 0 {
		return fmt.Errorf("lastLive %s != lastUnapplied %s", lastLive, lastUnapplied)
	}
	minLive, minUnapplied := s.mgr.Mins()
	if gtid.Compare(minLive, minUnapplied) != 0 {
		return fmt.Errorf("minLive %s != minUnapplied %s", minLive, minUnapplied)
	}
	return nil
}
