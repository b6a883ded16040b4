// Package validate contains simple input validation helpers.
package validate

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 30
	PasswordMinLen = 6
	PasswordMaxLen = 100
)

// usernameRe allows letters, digits and underscore only.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Username validates account names. The returned error names the rule
// that failed so it can be shown to the user as-is.
func Username(s string) error {
	if s == "" {
		return errors.New("username is required")
	}
	if n := utf8.RuneCountInString(s); n < UsernameMinLen || n > UsernameMaxLen {
		return errors.New("username must be 3-30 characters")
	}
	if !usernameRe.MatchString(s) {
		return errors.New("username may only contain letters, digits and underscore")
	}
	return nil
}

// Password validates a new account password. The accounts file is
// line oriented with '|' as separator, so neither may appear.
func Password(s string) error {
	if s == "" {
		return errors.New("password is required")
	}
	if n := utf8.RuneCountInString(s); n < PasswordMinLen || n > PasswordMaxLen {
		return errors.New("password must be 6-100 characters")
	}
	if strings.ContainsAny(s, "|\r\n") {
		return errors.New("password must not contain '|' or line breaks")
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter {
		return errors.New("password must contain at least one letter")
	}
	if !digit {
		return errors.New("password must contain at least one digit")
	}
	return nil
}

// DataDir validates and normalizes the directory that holds state files.
func DataDir(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("data dir is required")
	}
	clean := filepath.Clean(p)
	// Reject volume root ("/", "C:\\", etc.).
	if filepath.IsAbs(clean) && filepath.Dir(clean) == clean {
		return "", errors.New("data dir cannot be filesystem root")
	}
	return clean, nil
}
