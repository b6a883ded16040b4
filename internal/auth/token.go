// Package auth holds credential primitives: session tokens and password
// matching.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SessionTokenBytes is the entropy of a session id before encoding.
const SessionTokenBytes = 32

// NewToken returns nbytes of crypto/rand output, base64url encoded
// without padding so it is safe in cookies and query strings.
func NewToken(nbytes int) (string, error) {
	if nbytes < 16 {
		return "", errors.New("token size too small")
	}
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
