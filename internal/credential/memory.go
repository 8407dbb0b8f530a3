package credential

import (
	"context"
	"sync"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token"
)

// MemoryStore keeps the bundle in process memory with the same expiry rules
// as the cookie adapters.
type MemoryStore struct {
	mu       sync.Mutex
	codec    *token.Codec
	bundle   Bundle
	lifetime Lifetimes
}

// NewMemoryStore creates an empty MemoryStore. A nil codec uses the wall clock.
func NewMemoryStore(codec *token.Codec) *MemoryStore {
	if codec == nil {
		codec = token.NewCodec(nil)
	}
	return &MemoryStore{codec: codec}
}

// Seed stores b as-is, bypassing validation. Intended for setting up partial
// or expired states.
func (s *MemoryStore) Seed(b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b
	s.lifetime = Lifetimes{}
}

// Read returns the unexpired fields of the stored bundle.
func (s *MemoryStore) Read(_ context.Context) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bundle
	if s.expired(s.lifetime.Access) {
		b.AccessToken = ""
		b.UserInfo = nil
	}
	if s.expired(s.lifetime.Refresh) {
		b.RefreshToken = ""
	}
	return b, nil
}

// Write replaces the stored bundle.
func (s *MemoryStore) Write(_ context.Context, b Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b
	s.lifetime = LifetimesOf(s.codec, b)
	if s.lifetime.Access.IsZero() {
		s.lifetime.Access = time.Unix(0, 0)
	}
	if s.lifetime.Refresh.IsZero() {
		s.lifetime.Refresh = time.Unix(0, 0)
	}
	return nil
}

// Clear drops the stored bundle.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = Bundle{}
	s.lifetime = Lifetimes{}
	return nil
}

// expired reports whether exp has passed. A zero exp means no expiry was recorded.
func (s *MemoryStore) expired(exp time.Time) bool {
	if exp.IsZero() {
		return false
	}
	return s.codec.RemainingLifetime(exp) <= 0
}
