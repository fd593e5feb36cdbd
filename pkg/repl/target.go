package repl

import (
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// pickSyncTarget walks the candidate list in preference order, skipping
// vetoed members, until it connects to one whose oplog still covers our
// position. On success currentTarget is set and r is left connected; on
// failure currentTarget is nil. If every candidate was exhausted and at
// least one of them had already aged our position out of its oplog, the
// node goes stale.
func (s *BackgroundSync) pickSyncTarget(r OplogReader) {
	s.mu.Lock()
	s.currentTarget = nil
	s.mu.Unlock()

	var staleCandidate *Member
	var staleOldest gtid.GTID

	for {
		candidate := s.rs.MemberToSyncTo()
		if candidate == nil {
			break
		}

		if err := r.Connect(candidate.Host); err != nil {
			s.logger.Debug("could not connect to sync candidate",
				logging.Host(candidate.Host), logging.Error(err))
			s.rs.Veto(candidate.Host, s.cfg.ConnectVeto)
			r.ResetConnection()
			continue
		}

		oldest, stale, err := s.isStale(r)
		if err != nil {
			s.logger.Debug("staleness probe failed",
				logging.Host(candidate.Host), logging.Error(err))
			s.rs.Veto(candidate.Host, s.cfg.ConnectVeto)
			r.ResetConnection()
			continue
		}
		if stale {
			s.logger.Warn("sync candidate too far ahead",
				logging.Host(candidate.Host),
				logging.GTID("remote_oldest", oldest),
				logging.GTID("last_live", s.mgr.GetLiveState()))
			staleCandidate = candidate
			staleOldest = oldest
			s.rs.Veto(candidate.Host, s.cfg.StaleVeto)
			r.ResetConnection()
			continue
		}

		s.mu.Lock()
		s.currentTarget = candidate
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.SetSyncTarget(candidate.Host)
		}
		s.logger.Info("syncing from", logging.Host(candidate.Host))
		return
	}

	if staleCandidate != nil {
		s.rs.GoStale(*staleCandidate, staleOldest)
	}
}

// isStale reports whether the connected candidate's oldest oplog entry
// is already past our newest one, meaning the history we still need has
// been aged out of its oplog.
func (s *BackgroundSync) isStale(r OplogReader) (gtid.GTID, bool, error) {
	lastLive := s.mgr.GetLiveState()
	if lastLive.IsInitial() {
		// a fresh node accepts any history
		return gtid.GTID{}, false, nil
	}

	oldest, ok, err := r.FindOneOldest(s.cfg.OplogNamespace)
	if err != nil {
		return gtid.GTID{}, false, err
	}
	if !ok {
		// an empty remote oplog cannot serve anyone; the candidate
		// gets the short connect veto, not the stale one
		return gtid.GTID{}, false, errEmptyRemoteOplog
	}
	if gtid.Compare(lastLive, oldest.ID) < 0 {
		return oldest.ID, true, nil
	}
	return gtid.GTID{}, false, nil
}
