// Package sweeper purges expired short links on a fixed interval, independent
// of writes.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Purger is the part of shortlink.Service the sweeper drives.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Sweeper calls Purge on every tick.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
}

// New returns a sweeper. interval must be positive.
func New(purger Purger, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		purger:   purger,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run sweeps until ctx is canceled. A failed sweep is logged and retried on the
// next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.purger.Purge(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "sweep failed", "error", err.Error())
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired short links purged",
			"count", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
