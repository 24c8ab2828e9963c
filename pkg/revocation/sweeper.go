package revocation

import (
	"context"
	"fmt"

	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep once a minute
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically purges expired entries from a MemoryRegistry.
// Lookups already ignore expired entries; sweeping only bounds memory.
type Sweeper struct {
	registry *MemoryRegistry
	cron     *cron.Cron
	logger   *observability.Logger
}

// NewSweeper schedules registry.Sweep on schedule (cron spec or @every descriptor)
func NewSweeper(registry *MemoryRegistry, schedule string, logger *observability.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Sweeper{
		registry: registry,
		cron:     cron.New(),
		logger:   logger.WithField("component", "revocation_sweeper"),
	}

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule revocation sweep: %w", err)
	}
	return s, nil
}

// RunOnce sweeps immediately
func (s *Sweeper) RunOnce() {
	defer observability.RecoverPanic(s.logger, "revocation sweep")

	removed := s.registry.Sweep()
	if removed > 0 {
		s.logger.WithField("removed", removed).WithField("remaining", s.registry.Len()).Debug("swept expired revocations")
	}
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("revocation sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
