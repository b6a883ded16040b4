package authstore

import (
	"maps"
	"slices"

	"github.com/khang26042012/NexoraX-AI/internal/auth"
	"github.com/khang26042012/NexoraX-AI/internal/validate"
)

func (s *Store) loadUsersLocked() {
	users, err := s.accounts.Load()
	if err != nil {
		s.logger.Error("load accounts failed", "err", err)
		if users == nil {
			users = map[string]string{}
		}
	}
	s.users = users
	s.logger.Debug("accounts loaded", "count", len(users))
}

func (s *Store) UserExists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// VerifyPassword reports whether password matches the stored value for
// username. Unknown users never match.
func (s *Store) VerifyPassword(username, password string) bool {
	s.mu.Lock()
	stored, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return auth.Matches(stored, password)
}

// CreateUser validates and records a new account. The line is appended
// to the accounts file before the in-memory map changes, so a failed
// append leaves no trace.
func (s *Store) CreateUser(username, password string) error {
	if err := validate.Username(username); err != nil {
		return validationError(err)
	}
	if err := validate.Password(password); err != nil {
		return validationError(err)
	}
	stored := password
	if s.hash {
		h, err := auth.HashPassword(password, s.hashParams)
		if err != nil {
			return storageError("hash password", err)
		}
		stored = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return &Error{Kind: KindConflict, Code: CodeUsernameExists, Message: "username already exists", Err: ErrUserExists}
	}
	if err := s.accounts.Append(username, stored); err != nil {
		s.logger.Error("append account failed", "user", username, "err", err)
		return storageError("could not save account", err)
	}
	s.users[username] = stored
	s.logger.Info("user created", "user", username)
	return nil
}

// DeleteUser removes an account and rewrites the accounts file. Any
// rate limit entry for the user goes with it; sessions are left to lazy
// invalidation and the sweep.
func (s *Store) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return notFound("user not found", ErrUserNotFound)
	}
	next := maps.Clone(s.users)
	delete(next, username)
	if err := s.accounts.Rewrite(next); err != nil {
		s.logger.Error("rewrite accounts failed", "user", username, "err", err)
		return storageError("could not save accounts", err)
	}
	s.users = next
	if _, ok := s.limits[username]; ok {
		delete(s.limits, username)
		s.saveLimitsLocked()
	}
	s.logger.Info("user deleted", "user", username)
	return nil
}

// Users returns all usernames sorted.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.users))
}

// UserInfo is the admin view of one account.
type UserInfo struct {
	Username    string   `json:"username"`
	Sessions    int      `json:"sessions"`
	Attempts    int      `json:"failed_attempts"`
	LockedUntil UnixTime `json:"locked_until,omitempty"`
	Hashed      bool     `json:"hashed"`
}

func (s *Store) UserInfos() []UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	counts := map[string]int{}
	for _, sess := range s.sessions {
		if now.Before(sess.ExpiresAt.Time()) {
			counts[sess.Username]++
		}
	}
	out := make([]UserInfo, 0, len(s.users))
	for _, name := range slices.Sorted(maps.Keys(s.users)) {
		ui := UserInfo{
			Username: name,
			Sessions: counts[name],
			Hashed:   auth.IsHash(s.users[name]),
		}
		if e, ok := s.limits[name]; ok {
			ui.Attempts = e.Attempts
			if now.Before(e.LockedUntil.Time()) {
				ui.LockedUntil = e.LockedUntil
			}
		}
		out = append(out, ui)
	}
	return out
}
