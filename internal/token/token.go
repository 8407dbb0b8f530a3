// Package token decodes bearer token claims without verifying signatures.
//
// Signature and revocation checks belong to the identity provider's
// introspection endpoint. Local decoding is only used to read the expiry so
// cookies never outlive the tokens they carry.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is matched by every decode failure.
var ErrMalformedToken = errors.New("malformed token")

// MalformedTokenError reports a bearer string that could not be decoded.
type MalformedTokenError struct {
	Cause error
}

func (e *MalformedTokenError) Error() string {
	if e.Cause == nil {
		return ErrMalformedToken.Error()
	}
	return fmt.Sprintf("%s: %v", ErrMalformedToken, e.Cause)
}

// Is makes errors.Is(err, ErrMalformedToken) hold for every MalformedTokenError.
func (e *MalformedTokenError) Is(target error) bool {
	return target == ErrMalformedToken
}

func (e *MalformedTokenError) Unwrap() error {
	return e.Cause
}

// Claims is the decoded, unverified payload of a token.
type Claims struct {
	raw jwt.MapClaims
}

// Map returns a copy of the raw claim map.
func (c Claims) Map() map[string]any {
	out := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}

// Expiry returns the exp claim. ok is false when the claim is absent or not numeric.
func (c Claims) Expiry() (time.Time, bool) {
	exp, err := c.raw.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Subject returns the sub claim or an empty string.
func (c Claims) Subject() string {
	sub, err := c.raw.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Codec decodes tokens and measures their remaining lifetime against a clock.
type Codec struct {
	parser *jwt.Parser
	now    func() time.Time
}

// NewCodec creates a Codec. A nil clock means time.Now.
func NewCodec(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{
		parser: jwt.NewParser(),
		now:    now,
	}
}

var defaultCodec = NewCodec(nil)

// Decode parses the payload of raw without checking its signature.
func (c *Codec) Decode(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, &MalformedTokenError{Cause: errors.New("empty token")}
	}

	claims := jwt.MapClaims{}
	if _, _, err := c.parser.ParseUnverified(raw, claims); err != nil {
		return Claims{}, &MalformedTokenError{Cause: err}
	}
	return Claims{raw: claims}, nil
}

// RemainingLifetime returns exp - now. It is negative for expired tokens.
func (c *Codec) RemainingLifetime(exp time.Time) time.Duration {
	return exp.Sub(c.now())
}

// ExpiresAt decodes raw and returns its exp claim.
func (c *Codec) ExpiresAt(raw string) (time.Time, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	exp, ok := claims.Expiry()
	if !ok {
		return time.Time{}, &MalformedTokenError{Cause: errors.New("exp claim missing")}
	}
	return exp, nil
}

// IsExpired reports whether raw is past its exp. Undecodable tokens count as expired.
func (c *Codec) IsExpired(raw string) bool {
	exp, err := c.ExpiresAt(raw)
	if err != nil {
		return true
	}
	return c.RemainingLifetime(exp) <= 0
}

// Decode parses raw with the default codec.
func Decode(raw string) (Claims, error) {
	return defaultCodec.Decode(raw)
}

// RemainingLifetime returns exp - time.Now().
func RemainingLifetime(exp time.Time) time.Duration {
	return defaultCodec.RemainingLifetime(exp)
}

// ExpiresAt returns the exp claim of raw using the default codec.
func ExpiresAt(raw string) (time.Time, error) {
	return defaultCodec.ExpiresAt(raw)
}

// IsExpired reports whether raw is expired or undecodable.
func IsExpired(raw string) bool {
	return defaultCodec.IsExpired(raw)
}
