// Package sweeper periodically purges expired server-side sessions.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
)

// Purger deletes sessions whose refresh token has expired.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper runs a Purger on a fixed interval.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	metrics  *metrics.Metrics
}

// New creates a new Sweeper. m may be nil.
func New(purger Purger, interval time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		purger:   purger,
		interval: interval,
		metrics:  m,
	}
}

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("session sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges once and returns how many sessions were removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Error("sweeper: failed to purge expired sessions", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("sweeper: purged expired sessions", "count", n)
	}
	s.metrics.Swept(n)
	return n
}
