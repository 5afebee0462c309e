package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is a store that evicts stale entries on demand.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically evicts stale entries from in-memory stores so they
// stay bounded.
type Sweeper struct {
	interval time.Duration
	targets  map[string]Sweepable
	logger   *zap.Logger
}

func NewSweeper(interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		interval: interval,
		targets:  make(map[string]Sweepable),
		logger:   logger,
	}
}

// Add registers a store under name. Call before Run.
func (s *Sweeper) Add(name string, target Sweepable) *Sweeper {
	s.targets[name] = target
	return s
}

// SweepOnce sweeps every target and returns the removed count per name.
func (s *Sweeper) SweepOnce() map[string]int {
	removed := make(map[string]int, len(s.targets))
	for name, t := range s.targets {
		n := t.Sweep()
		removed[name] = n
		if n > 0 {
			s.logger.Debug("Swept stale entries", zap.String("store", name), zap.Int("count", n))
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
