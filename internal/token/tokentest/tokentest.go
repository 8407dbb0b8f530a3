// Package tokentest mints signed tokens for tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingKey = []byte("directory-test-signing-key")

// Mint returns an HS256 token for subject that expires at exp.
func Mint(t testing.TB, subject string, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return signed
}

// Valid returns a token for subject that expires in ttl.
func Valid(t testing.TB, subject string, ttl time.Duration) string {
	t.Helper()
	return Mint(t, subject, time.Now().Add(ttl))
}

// Expired returns a token for subject that expired an hour ago.
func Expired(t testing.TB, subject string) string {
	t.Helper()
	return Mint(t, subject, time.Now().Add(-time.Hour))
}
