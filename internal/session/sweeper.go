package session

import (
	"context"
	"time"

	"github.com/adverant/nexus/followverify-worker/internal/logging"
)

const (
	DefaultTimeout       = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Sweeper periodically deletes abandoned sessions regardless of step
type Sweeper struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewSweeper creates a sweeper. Non-positive durations use the defaults.
func NewSweeper(store Store, interval, timeout time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Session sweeper started", "interval", s.interval, "timeout", s.timeout)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of removed sessions
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.store.SweepExpired(ctx, s.now(), s.timeout)
	if err != nil {
		s.logger.Error("Session sweep failed", "error", err, "removed", removed)
		return removed
	}
	if removed > 0 {
		s.logger.Info("Expired sessions removed", "count", removed)
	}
	return removed
}
