// Package auth tests cover password matching and token generation.
package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Argon2Params {
	p := DefaultArgon2Params()
	p.Memory = 8 * 1024
	p.Iterations = 1
	return p
}

func TestHashAndMatch(t *testing.T) {
	h, err := HashPassword("Passw0rd", testParams())
	require.NoError(t, err)
	assert.True(t, IsHash(h))
	assert.True(t, Matches(h, "Passw0rd"))
	assert.False(t, Matches(h, "wrong1"))
}

func TestMatchesPlaintext(t *testing.T) {
	assert.True(t, Matches("Passw0rd", "Passw0rd"))
	assert.False(t, Matches("Passw0rd", "passw0rd"))
	assert.False(t, Matches("", ""))
}

func TestMatchesRejectsCorruptHash(t *testing.T) {
	assert.False(t, Matches("argon2id$v=19$garbage", "x"))
	assert.False(t, Matches("argon2id$v=1$m=1,t=1,p=1$AAAA$AAAA", "x"))
}

func TestNewToken(t *testing.T) {
	_, err := NewToken(8)
	assert.Error(t, err)

	a, err := NewToken(SessionTokenBytes)
	require.NoError(t, err)
	b, err := NewToken(SessionTokenBytes)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, SessionTokenBytes)
}
