package authstore

import (
	"context"
	"time"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	ExpiredSessions  int
	OrphanedSessions int
	StaleRateLimits  int
}

func (r SweepResult) Empty() bool {
	return r.ExpiredSessions == 0 && r.OrphanedSessions == 0 && r.StaleRateLimits == 0
}

// Sweep removes expired and orphaned sessions and rate limit entries that
// are unlocked and outside the rolling window. Each file is rewritten
// only if its structure changed.
func (s *Store) Sweep() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var r SweepResult

	for id, sess := range s.sessions {
		switch {
		case !now.Before(sess.ExpiresAt.Time()):
			delete(s.sessions, id)
			r.ExpiredSessions++
		case !s.hasUserLocked(sess.Username):
			delete(s.sessions, id)
			r.OrphanedSessions++
		}
	}
	if r.ExpiredSessions+r.OrphanedSessions > 0 {
		s.saveSessionsLocked()
	}

	for name, e := range s.limits {
		locked := now.Before(e.LockedUntil.Time())
		if !locked && now.Sub(e.LastAttempt.Time()) > s.policy.AttemptWindow {
			delete(s.limits, name)
			r.StaleRateLimits++
		}
	}
	if r.StaleRateLimits > 0 {
		s.saveLimitsLocked()
	}
	return r
}

func (s *Store) hasUserLocked(name string) bool {
	_, ok := s.users[name]
	return ok
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r := s.Sweep()
			if !r.Empty() {
				s.logger.Info("sweep",
					"expired_sessions", r.ExpiredSessions,
					"orphaned_sessions", r.OrphanedSessions,
					"stale_rate_limits", r.StaleRateLimits)
			}
		}
	}
}
