package authstore

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an auth failure. Each kind maps to one HTTP status.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindAuth
	KindRateLimit
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error codes returned in JSON error bodies.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeMissingFields      = "MISSING_FIELDS"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeNotFound           = "NOT_FOUND"
	CodeStorage            = "STORAGE_ERROR"
)

var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrNoSession    = errors.New("session not found")
	ErrNoRateLimit  = errors.New("no rate limit entry")
)

// ErrMissingFields is returned when username or password is empty.
var ErrMissingFields = errors.New("username and password are required")

// Error is returned by every Store operation that can fail in a way
// callers report to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Wait is the remaining lockout for KindRateLimit.
	Wait time.Duration
	// Remaining is the number of attempts left before lockout for
	// KindAuth. It is 0 once the failure triggered a lockout.
	Remaining int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WaitSeconds rounds Wait up so a client never retries too early.
func (e *Error) WaitSeconds() int {
	return ceilSeconds(e.Wait)
}

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: err.Error(), Err: err}
}

func storageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Code: CodeStorage, Message: msg, Err: err}
}

func notFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
