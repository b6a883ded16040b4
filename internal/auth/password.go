package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// hashPrefix marks a stored password as an Argon2id PHC string rather
// than a legacy plaintext value.
const hashPrefix = "argon2id$"

var ErrBadHash = errors.New("invalid password hash")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// IsHash reports whether stored looks like a value produced by HashPassword.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, hashPrefix)
}

// HashPassword returns a PHC-style Argon2id string.
// Format: argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func HashPassword(password string, p Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// Matches compares a supplied password against the stored account value.
// Plaintext values (the historical accounts file format) are compared
// in constant time; hashed values go through Argon2id.
func Matches(stored, supplied string) bool {
	if stored == "" || supplied == "" {
		return false
	}
	if !IsHash(stored) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
	}
	p, salt, want, err := decodeHash(stored)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(supplied), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(s string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrBadHash
	}
	var ver int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &ver); err != nil || ver != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported version", ErrBadHash)
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: parameters", ErrBadHash)
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: salt", ErrBadHash)
	}
	key, err := enc.DecodeString(parts[4])
	if err != nil || len(key) < 16 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: key", ErrBadHash)
	}
	return p, salt, key, nil
}
