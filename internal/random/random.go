// Package random generates the opaque identifiers and secrets handed to
// clients: refresh-token secrets, 2FA temp tokens and OAuth state.
package random

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	// SecretSize is the byte length of refresh secrets.
	SecretSize = 32
	// TokenSize is the byte length of temp tokens and OAuth state.
	TokenSize = 32
)

var errEmptySize = errors.New("random: size must be positive")

// Bytes returns n cryptographically random bytes.
func Bytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errEmptySize
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Token returns a base64url (no padding) encoding of n random bytes.
func Token(n int) (string, error) {
	b, err := Bytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 of a client-held secret. Only this hash
// is persisted.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Equal compares two hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
