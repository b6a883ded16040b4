package authstore

import (
	"fmt"
	"time"
)

// RateLimitEntry tracks failed logins for one username.
type RateLimitEntry struct {
	Attempts    int      `json:"attempts"`
	LastAttempt UnixTime `json:"last_attempt"`
	LockedUntil UnixTime `json:"locked_until"`
}

// lockoutFor returns the lock duration once attempts reaches the limit.
// Tiers are fixed thresholds, not doubling.
func lockoutFor(attempts int) time.Duration {
	switch {
	case attempts <= 7:
		return 60 * time.Second
	case attempts <= 10:
		return 300 * time.Second
	default:
		return 1800 * time.Second
	}
}

// LimitStatus is the answer to "may this username attempt a login now".
type LimitStatus struct {
	Limited bool
	Message string
	Wait    time.Duration
}

// WaitSeconds rounds Wait up to whole seconds.
func (l LimitStatus) WaitSeconds() int { return ceilSeconds(l.Wait) }

// Failure describes the limiter state right after a failed attempt.
type Failure struct {
	Attempts  int
	Remaining int
	LockedFor time.Duration
}

func (f Failure) Locked() bool { return f.LockedFor > 0 }

func (s *Store) loadLimitsLocked() {
	limits, err := s.limitsP.Load()
	if err != nil {
		s.logger.Error("load rate limits failed", "err", err)
		limits = map[string]RateLimitEntry{}
	}
	s.limits = limits
}

func (s *Store) saveLimitsLocked() {
	if err := s.limitsP.Save(s.limits); err != nil {
		s.logger.Error("persist rate limits failed", "err", err)
	}
}

// CheckRateLimit consults the limiter before an authentication attempt.
// An entry whose rolling window has passed is removed here.
func (s *Store) CheckRateLimit(username string) LimitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkRateLimitLocked(username)
}

func (s *Store) checkRateLimitLocked(username string) LimitStatus {
	e, ok := s.limits[username]
	if !ok {
		return LimitStatus{}
	}
	now := s.now()
	if until := e.LockedUntil.Time(); !e.LockedUntil.IsZero() && now.Before(until) {
		wait := until.Sub(now)
		return LimitStatus{
			Limited: true,
			Wait:    wait,
			Message: fmt.Sprintf("Too many failed login attempts. Try again in %d seconds.", ceilSeconds(wait)),
		}
	}
	if now.Sub(e.LastAttempt.Time()) > s.policy.AttemptWindow {
		delete(s.limits, username)
		s.saveLimitsLocked()
	}
	return LimitStatus{}
}

// RecordFailure counts a failed login. A failure outside the rolling
// window starts a fresh count.
func (s *Store) RecordFailure(username string) Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordFailureLocked(username)
}

func (s *Store) recordFailureLocked(username string) Failure {
	now := s.now()
	e, ok := s.limits[username]
	if !ok || now.Sub(e.LastAttempt.Time()) > s.policy.AttemptWindow {
		e = RateLimitEntry{Attempts: 1}
	} else {
		e.Attempts++
	}
	e.LastAttempt = FromTime(now)

	f := Failure{Attempts: e.Attempts, Remaining: s.policy.MaxAttempts - e.Attempts}
	if e.Attempts >= s.policy.MaxAttempts {
		f.LockedFor = lockoutFor(e.Attempts)
		f.Remaining = 0
		e.LockedUntil = FromTime(now.Add(f.LockedFor))
		s.logger.Warn("login locked", "user", username, "attempts", e.Attempts, "lock", f.LockedFor)
	}
	s.limits[username] = e
	s.saveLimitsLocked()
	return f
}

// ClearRateLimit drops the entry for username and reports whether one
// existed.
func (s *Store) ClearRateLimit(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearRateLimitLocked(username)
}

func (s *Store) clearRateLimitLocked(username string) bool {
	if _, ok := s.limits[username]; !ok {
		return false
	}
	delete(s.limits, username)
	s.saveLimitsLocked()
	return true
}

// RateLimit returns a copy of the entry for username.
func (s *Store) RateLimit(username string) (RateLimitEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.limits[username]
	return e, ok
}
