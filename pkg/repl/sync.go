package repl

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// BackgroundSync is the secondary-side replication pipeline: a
// producer worker that tails an upstream oplog into the local oplog
// and the apply queue, and an applier worker that drains the queue.
// One instance is created at server startup and passed to
// collaborators; tests inject fresh instances.
type BackgroundSync struct {
	mu             sync.Mutex
	canRun         *sync.Cond
	runningChanged *sync.Cond
	shouldRun      bool
	running        bool

	// shouldExit is monotone: set once at shutdown, never cleared.
	// That is what makes the lock-free reads at loop boundaries safe.
	shouldExit atomic.Bool

	producerInProgress atomic.Bool
	applierInProgress  atomic.Bool

	currentTarget *Member // under mu
	waitTimeMs    int64   // under mu

	queue *OpQueue
	rbid  atomic.Uint64

	cfg       SyncConfig
	rs        ReplicaSetState
	mgr       *gtid.Manager
	store     OplogStore
	newReader ReaderFactory

	archive *RollbackArchive
	logger  *logging.JSONLogger
	metrics *metrics.Registry

	// invalidateCursors and abortLiveTransactions are the storage
	// engine's pre-rollback hooks. Nil hooks are skipped.
	invalidateCursors     func()
	abortLiveTransactions func()
}

// Counters is the pipeline's observable state.
type Counters struct {
	WaitTimeMs int64  `json:"waitTimeMs"`
	NumElems   uint32 `json:"numElems"`
}

// Option configures a BackgroundSync.
type Option func(*BackgroundSync)

// WithSyncLogger sets the logger.
func WithSyncLogger(logger *logging.JSONLogger) Option {
	return func(s *BackgroundSync) { s.logger = logger }
}

// WithMetrics sets the metrics registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *BackgroundSync) { s.metrics = reg }
}

// WithRollbackArchive saves rolled-back entries before they are undone.
func WithRollbackArchive(a *RollbackArchive) Option {
	return func(s *BackgroundSync) { s.archive = a }
}

// WithRollbackHooks sets the cursor-invalidation and live-transaction
// abort hooks run before the replica set enters ROLLBACK.
func WithRollbackHooks(invalidateCursors, abortLiveTransactions func()) Option {
	return func(s *BackgroundSync) {
		s.invalidateCursors = invalidateCursors
		s.abortLiveTransactions = abortLiveTransactions
	}
}

// NewBackgroundSync creates the pipeline. Workers do not start until
// ProducerThread and ApplierThread are launched, and the producer does
// not sync until StartOpSyncThread is called.
func NewBackgroundSync(cfg SyncConfig, rs ReplicaSetState, mgr *gtid.Manager, store OplogStore, newReader ReaderFactory, opts ...Option) (*BackgroundSync, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &BackgroundSync{
		cfg:       cfg,
		rs:        rs,
		mgr:       mgr,
		store:     store,
		newReader: newReader,
		queue:     NewOpQueue(cfg.HighWatermark, cfg.LowWatermark),
		logger:    logging.NewDefaultLogger(),
	}
	s.canRun = sync.NewCond(&s.mu)
	s.runningChanged = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetCounters returns the accumulated oplog-write wait time and the
// current queue depth.
func (s *BackgroundSync) GetCounters() Counters {
	s.mu.Lock()
	waitTime := s.waitTimeMs
	s.mu.Unlock()
	return Counters{WaitTimeMs: waitTime, NumElems: uint32(s.queue.Len())}
}

// GetSyncTarget returns the current upstream, or nil.
func (s *BackgroundSync) GetSyncTarget() *Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTarget
}

// RollbackID returns the current rollback generation. Each rollback
// increments it; cursor invalidation runs through the WithRollbackHooks
// callback, not through this value.
func (s *BackgroundSync) RollbackID() uint64 {
	return s.rbid.Load()
}

// ProducerThread is the producer worker's entry point. It runs until
// Shutdown.
func (s *BackgroundSync) ProducerThread() {
	s.producerInProgress.Store(true)
	defer s.producerInProgress.Store(false)

	timeToSleep := 0
	for !s.shouldExit.Load() {
		if timeToSleep > 0 {
			s.mu.Lock()
			s.running = false
			s.runningChanged.Broadcast()
			s.mu.Unlock()
			for i := 0; i < timeToSleep && !s.shouldExit.Load(); i++ {
				time.Sleep(1 * time.Second)
			}
			timeToSleep = 0
		}
		if s.shouldExit.Load() {
			break
		}

		s.mu.Lock()
		s.running = false
		for !s.shouldRun && !s.shouldExit.Load() {
			s.runningChanged.Broadcast()
			s.canRun.Wait()
		}
		s.running = true
		s.runningChanged.Broadcast()
		s.mu.Unlock()

		if s.shouldExit.Load() {
			break
		}

		state := s.rs.State()
		if state.Fatal() || state.Startup() {
			timeToSleep = 5
			continue
		}

		sleep, err := s.produce()
		if err != nil {
			s.rs.SetHealthMessage(fmt.Sprintf("error in producer: %v", err))
			s.logger.Error("producer error", logging.Error(err))
			timeToSleep = 10
			continue
		}
		timeToSleep = sleep
	}

	s.mu.Lock()
	s.running = false
	s.runningChanged.Broadcast()
	s.mu.Unlock()
}

// produce runs one sync pass against one upstream. It returns the
// number of seconds the producer should sleep before the next pass.
func (s *BackgroundSync) produce() (int, error) {
	// In a one-member set there are no heartbeat threads to drive
	// state transitions and never any ops to sync.
	if len(s.rs.Members()) == 1 {
		s.rs.CheckSingleMemberState()
		return 1, nil
	}

	r := s.newReader()
	defer r.ResetConnection()

	s.pickSyncTarget(r)

	s.mu.Lock()
	target := s.currentTarget
	s.mu.Unlock()
	if target == nil {
		return 1, nil
	}

	lastGTID := s.mgr.GetLiveState()
	if err := r.TailingQueryGTE(s.cfg.OplogNamespace, lastGTID); err != nil {
		s.logger.Debug("tailing query failed", logging.Host(target.Host), logging.Error(err))
		return 0, nil
	}

	// The target may have cut the connection between connecting and
	// querying, for example because it stepped down.
	if !r.HaveCursor() {
		return 0, nil
	}

	rolledBack, pending, err := s.isRollbackRequired(r)
	if err != nil {
		var rbErr *RollbackError
		if errors.As(err, &rbErr) {
			// a rollback was attempted and failed
			s.rs.SetHealthMessage(rbErr.Error())
			s.rs.Fatal()
			return 2, nil
		}
		return 0, err
	}
	if rolledBack {
		// sleep before restarting target selection from the reset
		// position; if we are not fatal we keep trying to sync
		return 2, nil
	}
	if pending != nil {
		// first entry of a fresh node's stream, consumed by the
		// divergence check
		if done, err := s.replicateEntry(*pending, target); err != nil || done {
			return 0, err
		}
	}

	for !s.shouldExit.Load() {
		for !s.shouldExit.Load() {
			s.mu.Lock()
			shouldRun := s.shouldRun
			s.mu.Unlock()
			if !shouldRun {
				return 0, nil
			}

			if !r.MoreInCurrentBatch() {
				// batch boundary: honor a force-sync request so we
				// can restart from the requested target
				if s.rs.GotForceSync() {
					return 0, nil
				}
				if s.rs.IsPrimary() {
					return 0, errors.New("background sync running while primary")
				}
				if !s.targetStillGood() {
					return 0, nil
				}
				r.More()
			}

			if !r.More() {
				break
			}

			o, err := r.NextSafe()
			if err != nil {
				return 0, err
			}
			s.logger.Debug("replicating entry",
				logging.GTID("gtid", o.ID),
				logging.Host(target.Host))

			if s.rs.SlaveDelay() > 0 {
				s.handleSlaveDelay(o.Ts)
				s.mu.Lock()
				shouldRun := s.shouldRun
				s.mu.Unlock()
				if !shouldRun {
					break
				}
			}

			if done, err := s.replicateEntry(o, target); err != nil || done {
				return 0, err
			}
		}

		if !s.targetStillGood() {
			return 0, nil
		}

		r.TailCheck()
		if !r.HaveCursor() {
			s.logger.Debug("end of sync pass", logging.Host(target.Host))
			return 0, nil
		}

		// looping back is fine, the cursor is tailable
	}
	return 0, nil
}

// replicateEntry durably writes o to the local oplog, advances the
// GTID bookkeeping, and enqueues o for the applier. done is true when
// the pipeline is shutting down.
func (s *BackgroundSync) replicateEntry(o oplog.Entry, target *Member) (done bool, err error) {
	start := time.Now()
	if err := s.store.ReplicateTransactionToOplog(o); err != nil {
		return false, fmt.Errorf("failed to replicate %s from %s: %w", o.ID, target.Host, err)
	}

	s.mu.Lock()
	s.mgr.NoteGTIDAdded(o.ID, o.Ts, o.Hash)
	s.waitTimeMs += time.Since(start).Milliseconds()
	s.mu.Unlock()

	if err := s.queue.Push(o); err != nil {
		return true, nil // queue closed, shutting down
	}

	if s.metrics != nil {
		s.metrics.RecordEntryReplicated(time.Since(start))
		s.metrics.SetQueueDepth(s.queue.Len())
	}
	return false, nil
}

// targetStillGood checks the current target's heartbeat health.
func (s *BackgroundSync) targetStillGood() bool {
	s.mu.Lock()
	target := s.currentTarget
	s.mu.Unlock()
	return target != nil && s.rs.TargetHealthy(target.Host)
}

// handleSlaveDelay sleeps until the entry's timestamp plus the
// configured delay has passed, in one-second chunks so a pause request
// is observed promptly.
func (s *BackgroundSync) handleSlaveDelay(opTs int64) {
	delay := s.rs.SlaveDelay()
	applyAt := opTs + delay.Milliseconds()

	for {
		now := time.Now().UnixMilli()
		if now >= applyAt {
			return
		}
		sleepMs := applyAt - now
		if sleepMs > 1000 {
			sleepMs = 1000
		}
		time.Sleep(time.Duration(sleepMs) * time.Millisecond)

		s.mu.Lock()
		shouldRun := s.shouldRun
		s.mu.Unlock()
		if !shouldRun {
			return
		}
	}
}
