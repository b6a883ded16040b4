// Package authstore owns accounts, sessions and login rate limits.
//
// The three structures live behind one mutex. Every read and every
// mutate-then-persist sequence takes that lock, so memory and the
// backing files change together. Persistence goes through small
// snapshot interfaces (AccountStore, Persister) so the logic runs
// against memory in tests and against flat files in production.
package authstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/khang26042012/NexoraX-AI/internal/auth"
)

const (
	DefaultSessionTTL  = 7 * 24 * time.Hour
	DefaultRememberTTL = 30 * 24 * time.Hour
	// Sessions with less than this fraction of their lifetime left are
	// rotated on the next check.
	DefaultRotateFraction = 0.25

	DefaultAttemptWindow = 300 * time.Second
	DefaultMaxAttempts   = 5

	DefaultSweepInterval = time.Hour
)

// Default file names inside the data directory.
const (
	AccountsFileName   = "accounts.txt"
	SessionsFileName   = "sessions.json"
	RateLimitsFileName = "rate_limits.json"
)

// Policy holds the tunable lifetimes. Lockout tiers are fixed; see
// lockoutFor.
type Policy struct {
	SessionTTL     time.Duration
	RememberTTL    time.Duration
	RotateFraction float64
	AttemptWindow  time.Duration
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		SessionTTL:     DefaultSessionTTL,
		RememberTTL:    DefaultRememberTTL,
		RotateFraction: DefaultRotateFraction,
		AttemptWindow:  DefaultAttemptWindow,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SessionTTL <= 0 {
		p.SessionTTL = d.SessionTTL
	}
	if p.RememberTTL <= 0 {
		p.RememberTTL = d.RememberTTL
	}
	if p.RotateFraction <= 0 || p.RotateFraction >= 1 {
		p.RotateFraction = d.RotateFraction
	}
	if p.AttemptWindow <= 0 {
		p.AttemptWindow = d.AttemptWindow
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Options configures a Store. Nil persisters fall back to in-memory ones.
type Options struct {
	Accounts   AccountStore
	Sessions   Persister[Session]
	RateLimits Persister[RateLimitEntry]

	Policy Policy

	// HashPasswords stores new passwords as Argon2id instead of plaintext.
	// Existing plaintext entries keep verifying either way.
	HashPasswords bool
	HashParams    auth.Argon2Params

	Now      func() time.Time
	NewToken func() (string, error)
	Logger   *slog.Logger
}

// FileOptions returns Options backed by the standard files in dataDir.
func FileOptions(dataDir string) Options {
	return Options{
		Accounts:   NewAccountsFile(filepath.Join(dataDir, AccountsFileName)),
		Sessions:   NewJSONFile[Session](filepath.Join(dataDir, SessionsFileName)),
		RateLimits: NewJSONFile[RateLimitEntry](filepath.Join(dataDir, RateLimitsFileName)),
	}
}

type Store struct {
	mu       sync.Mutex
	users    map[string]string
	sessions map[string]Session
	limits   map[string]RateLimitEntry

	accounts   AccountStore
	sessionsP  Persister[Session]
	limitsP    Persister[RateLimitEntry]
	policy     Policy
	hash       bool
	hashParams auth.Argon2Params
	now        func() time.Time
	newToken   func() (string, error)
	logger     *slog.Logger
}

// Open builds a Store and loads all three structures. Load failures are
// logged and leave the affected structure empty; only a session token
// generator misconfiguration is fatal.
func Open(opt Options) (*Store, error) {
	s := &Store{
		accounts:   opt.Accounts,
		sessionsP:  opt.Sessions,
		limitsP:    opt.RateLimits,
		policy:     opt.Policy.withDefaults(),
		hash:       opt.HashPasswords,
		hashParams: opt.HashParams,
		now:        opt.Now,
		newToken:   opt.NewToken,
		logger:     opt.Logger,
	}
	if s.accounts == nil {
		s.accounts = NewMemoryAccounts(nil)
	}
	if s.sessionsP == nil {
		s.sessionsP = NewMemoryPersister[Session](nil)
	}
	if s.limitsP == nil {
		s.limitsP = NewMemoryPersister[RateLimitEntry](nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newToken == nil {
		s.newToken = func() (string, error) { return auth.NewToken(auth.SessionTokenBytes) }
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.hashParams == (auth.Argon2Params{}) {
		s.hashParams = auth.DefaultArgon2Params()
	}
	if _, err := s.newToken(); err != nil {
		return nil, fmt.Errorf("session token generator: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadUsersLocked()
	s.loadSessionsLocked()
	s.loadLimitsLocked()
	return s, nil
}

func (s *Store) Policy() Policy { return s.policy }

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.now() }

// Reload re-reads all three structures from their persisters.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadUsersLocked()
	s.loadSessionsLocked()
	s.loadLimitsLocked()
}

// Stats is a point-in-time summary for admin reporting.
type Stats struct {
	Users          int `json:"users"`
	ActiveSessions int `json:"active_sessions"`
	RateLimited    int `json:"rate_limited_users"`
	LockedUsers    int `json:"locked_users"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	st := Stats{Users: len(s.users)}
	for _, sess := range s.sessions {
		if now.Before(sess.ExpiresAt.Time()) {
			st.ActiveSessions++
		}
	}
	st.RateLimited = len(s.limits)
	for _, e := range s.limits {
		if now.Before(e.LockedUntil.Time()) {
			st.LockedUsers++
		}
	}
	return st
}
