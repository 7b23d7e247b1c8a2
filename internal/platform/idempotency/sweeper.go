package idempotency

import (
	"context"
	"time"
)

const (
	defaultSweepInterval = time.Hour
	defaultSweepBatch    = 200
)

// Sweeper periodically deletes expired entries so the store does not grow without bound.
type Sweeper struct {
	store    Store
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSweeper constructs a Sweeper. Non-positive interval or batch fall back to defaults.
func NewSweeper(store Store, interval time.Duration, batch int, logger func(ctx context.Context, event string, fields map[string]any)) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Sweeper{store: store, interval: interval, batch: batch, clock: time.Now, logger: logger}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger(ctx, "idempotency.sweep.failed", map[string]any{"error": err})
			}
		}
	}
}

// SweepOnce deletes expired entries batch by batch until a batch comes back short.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		removed, err := s.store.Sweep(ctx, s.clock().UTC(), s.batch)
		total += removed
		if err != nil {
			return total, err
		}
		if removed < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger(ctx, "idempotency.sweep", map[string]any{"removed": total})
	}
	return total, nil
}
