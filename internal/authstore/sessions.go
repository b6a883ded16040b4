package authstore

import (
	"time"
)

// Session binds an opaque token to a username until ExpiresAt.
type Session struct {
	Username   string   `json:"username"`
	ExpiresAt  UnixTime `json:"expires_at"`
	RememberMe bool     `json:"remember_me"`
}

// SessionInfo is returned to callers that need more than the username.
type SessionInfo struct {
	ID         string
	Username   string
	ExpiresAt  time.Time
	RememberMe bool
	Rotated    bool
}

// TTL returns the full lifetime for a session with the given flag.
func (p Policy) TTL(rememberMe bool) time.Duration {
	if rememberMe {
		return p.RememberTTL
	}
	return p.SessionTTL
}

func (s *Store) loadSessionsLocked() {
	sessions, err := s.sessionsP.Load()
	if err != nil {
		s.logger.Error("load sessions failed", "err", err)
		sessions = map[string]Session{}
	}
	now := s.now()
	dropped := 0
	for id, sess := range sessions {
		if !now.Before(sess.ExpiresAt.Time()) {
			delete(sessions, id)
			dropped++
		}
	}
	s.sessions = sessions
	if dropped > 0 {
		s.logger.Info("dropped expired sessions on load", "count", dropped)
		s.saveSessionsLocked()
	}
}

// saveSessionsLocked rewrites the session file. Memory stays
// authoritative when the write fails; the next save heals the file.
func (s *Store) saveSessionsLocked() {
	if err := s.sessionsP.Save(s.sessions); err != nil {
		s.logger.Error("persist sessions failed", "err", err)
	}
}

func (s *Store) newSessionLocked(username string, rememberMe bool) (string, Session, error) {
	var id string
	for {
		tok, err := s.newToken()
		if err != nil {
			return "", Session{}, storageError("generate session id", err)
		}
		if _, taken := s.sessions[tok]; !taken {
			id = tok
			break
		}
	}
	sess := Session{
		Username:   username,
		ExpiresAt:  FromTime(s.now().Add(s.policy.TTL(rememberMe))),
		RememberMe: rememberMe,
	}
	s.sessions[id] = sess
	return id, sess, nil
}

// CreateSession issues a new session for username.
func (s *Store) CreateSession(username string, rememberMe bool) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, sess, err := s.newSessionLocked(username, rememberMe)
	if err != nil {
		return SessionInfo{}, err
	}
	s.saveSessionsLocked()
	return infoFor(id, sess, false), nil
}

// validateLocked applies lazy expiry: expired sessions and sessions of
// deleted users are removed the first time they are looked at.
func (s *Store) validateLocked(id string) (Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if !s.now().Before(sess.ExpiresAt.Time()) {
		delete(s.sessions, id)
		s.saveSessionsLocked()
		return Session{}, false
	}
	if _, ok := s.users[sess.Username]; !ok {
		delete(s.sessions, id)
		s.saveSessionsLocked()
		s.logger.Info("dropped orphaned session", "user", sess.Username)
		return Session{}, false
	}
	return sess, true
}

// ValidateSession returns the username bound to id, if the session is
// live.
func (s *Store) ValidateSession(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.validateLocked(id)
	return sess.Username, ok
}

func (s *Store) rotateLocked(id string, sess Session) (string, Session, error) {
	newID, next, err := s.newSessionLocked(sess.Username, sess.RememberMe)
	if err != nil {
		return "", Session{}, err
	}
	delete(s.sessions, id)
	s.saveSessionsLocked()
	return newID, next, nil
}

// RotateSession replaces id with a new id carrying a fresh full-length
// expiry. It returns ErrNoSession when id is not live.
func (s *Store) RotateSession(id string) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.validateLocked(id)
	if !ok {
		return SessionInfo{}, notFound("session not found", ErrNoSession)
	}
	newID, next, err := s.rotateLocked(id, sess)
	if err != nil {
		return SessionInfo{}, err
	}
	return infoFor(newID, next, true), nil
}

// CheckSession validates id and rotates it when less than the rotate
// fraction of its lifetime remains. Both happen under one lock so a
// concurrent logout cannot resurrect the session.
func (s *Store) CheckSession(id string) (SessionInfo, bool) {
	if id == "" {
		return SessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.validateLocked(id)
	if !ok {
		return SessionInfo{}, false
	}
	ttl := s.policy.TTL(sess.RememberMe)
	remaining := sess.ExpiresAt.Time().Sub(s.now())
	if float64(remaining) >= float64(ttl)*s.policy.RotateFraction {
		return infoFor(id, sess, false), true
	}
	newID, next, err := s.rotateLocked(id, sess)
	if err != nil {
		s.logger.Error("rotate session failed", "user", sess.Username, "err", err)
		return infoFor(id, sess, false), true
	}
	s.logger.Debug("session rotated", "user", sess.Username)
	return infoFor(newID, next, true), true
}

// DeleteSession removes id and reports whether it existed.
func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.saveSessionsLocked()
	return true
}

// ActiveSessions counts unexpired sessions without mutating anything.
func (s *Store) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, sess := range s.sessions {
		if now.Before(sess.ExpiresAt.Time()) {
			n++
		}
	}
	return n
}

func infoFor(id string, sess Session, rotated bool) SessionInfo {
	return SessionInfo{
		ID:         id,
		Username:   sess.Username,
		ExpiresAt:  sess.ExpiresAt.Time(),
		RememberMe: sess.RememberMe,
		Rotated:    rotated,
	}
}
