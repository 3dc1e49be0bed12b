package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically closes questions whose time ran out with nobody left to notice, and evicts
// sessions that finished longer than evictAfter ago.
type Sweeper struct {
	coordinator *Coordinator
	schedule    string
	evictAfter  time.Duration
	logger      *zap.Logger
}

func NewSweeper(c *Coordinator, schedule string, evictAfter time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{coordinator: c, schedule: schedule, evictAfter: evictAfter, logger: logger}
}

// Sweep runs one pass and reports how many questions were closed and sessions evicted.
func (s *Sweeper) Sweep() (expired, evicted int) {
	expired = s.coordinator.SweepExpired()
	if s.evictAfter > 0 {
		evicted = s.coordinator.EvictFinished(s.evictAfter)
	}
	if expired > 0 || evicted > 0 {
		s.logger.Info("sweep finished", zap.Int("expired", expired), zap.Int("evicted", evicted))
	}
	return expired, evicted
}

// Start runs the sweep on its schedule until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return err
	}

	c.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.schedule))

	<-ctx.Done()

	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return nil
}
