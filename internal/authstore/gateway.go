package authstore

import (
	"fmt"

	"github.com/khang26042012/NexoraX-AI/internal/auth"
	"github.com/khang26042012/NexoraX-AI/internal/validate"
)

// Credentials is the signup/login request payload.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (c Credentials) check() error {
	if c.Username == "" || c.Password == "" {
		e := validationError(ErrMissingFields)
		e.Code = CodeMissingFields
		return e
	}
	if err := validate.Username(c.Username); err != nil {
		return validationError(err)
	}
	if err := validate.Password(c.Password); err != nil {
		return validationError(err)
	}
	return nil
}

// Signup creates the account and opens its first session.
func (s *Store) Signup(c Credentials) (SessionInfo, error) {
	if err := c.check(); err != nil {
		return SessionInfo{}, err
	}
	if err := s.CreateUser(c.Username, c.Password); err != nil {
		return SessionInfo{}, err
	}
	return s.CreateSession(c.Username, c.RememberMe)
}

// Login authenticates c against the account store, honoring the
// per-username lockout. The limiter check, the password comparison and
// the failure count happen under one lock, so parallel guesses for the
// same username are counted one by one.
func (s *Store) Login(c Credentials) (SessionInfo, error) {
	if err := c.check(); err != nil {
		return SessionInfo{}, err
	}
	if err := s.authenticate(c.Username, c.Password); err != nil {
		return SessionInfo{}, err
	}
	info, err := s.CreateSession(c.Username, c.RememberMe)
	if err != nil {
		return SessionInfo{}, err
	}
	s.logger.Info("login", "user", c.Username, "remember_me", c.RememberMe)
	return info, nil
}

func (s *Store) authenticate(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.checkRateLimitLocked(username); st.Limited {
		return &Error{Kind: KindRateLimit, Code: CodeRateLimited, Message: st.Message, Wait: st.Wait}
	}
	if stored, ok := s.users[username]; ok && auth.Matches(stored, password) {
		s.clearRateLimitLocked(username)
		return nil
	}

	f := s.recordFailureLocked(username)
	e := &Error{Kind: KindAuth, Code: CodeInvalidCredentials, Remaining: f.Remaining}
	if f.Locked() {
		e.Wait = f.LockedFor
		e.Message = fmt.Sprintf("Invalid username or password. Account locked for %d seconds.", ceilSeconds(f.LockedFor))
	} else {
		e.Message = fmt.Sprintf("Invalid username or password. %d attempts remaining.", f.Remaining)
	}
	return e
}

// Logout deletes the session and reports whether it existed.
func (s *Store) Logout(id string) bool {
	if id == "" {
		return false
	}
	return s.DeleteSession(id)
}
