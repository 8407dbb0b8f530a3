package authfetch

import (
	"golang.org/x/sync/singleflight"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
)

// Shared builds per-store Clients that coalesce refreshes with each other,
// so concurrent requests from one browser session issue a single refresh.
type Shared struct {
	refresher Refresher
	opts      []Option
	group     *singleflight.Group
}

// NewShared creates a Shared. opts apply to every Client it builds.
func NewShared(refresher Refresher, opts ...Option) *Shared {
	return &Shared{
		refresher: refresher,
		opts:      opts,
		group:     &singleflight.Group{},
	}
}

// For returns a Client bound to store.
func (s *Shared) For(store credential.Store) *Client {
	c := New(store, s.refresher, s.opts...)
	if c.group != nil {
		c.group = s.group
	}
	return c
}
