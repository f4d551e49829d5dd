// Package utils holds the crypto primitives shared by the token engine and
// the password reset workflow: random URL-safe tokens, one-way hashing and
// constant-time comparison, plus bcrypt password hashing.
package utils

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // one-way digests of raw tokens
	"crypto/subtle" // constant-time comparison
	"encoding/base64"
	"encoding/hex"
)

// ResetTokenBytes is the entropy of a password reset token.
const ResetTokenBytes = 32

// RandomToken returns n bytes of cryptographically secure random data
// encoded as unpadded URL-safe base64, so it can travel in a query string.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Only this digest
// is ever persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SecureCompare reports whether a and b are equal in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MatchesHash reports whether raw hashes to digest.
func MatchesHash(raw, digest string) bool {
	return SecureCompare(HashToken(raw), digest)
}
