package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Job pairs a processor with the lookback window it fetches each cycle.
type Job struct {
	Processor *Processor
	Window    time.Duration
}

// Scheduler runs every job once at start and then on a fixed interval.
type Scheduler struct {
	store       store.Store
	collections []string
	jobs        []Job
	interval    time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
}

// NewScheduler creates a Scheduler. A nil clock selects the real clock.
func NewScheduler(st store.Store, collections []string, jobs []Job, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		store:       st,
		collections: collections,
		jobs:        jobs,
		interval:    interval,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once the scheduler has completed a cycle.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("scheduler has not completed a processing cycle yet")
	}
	return nil
}

// Run processes until ctx is cancelled. Cycle failures are logged and the
// next tick tries again.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "jobs", len(s.jobs))
	s.metrics.ProcessorRunning.Set(1)
	defer s.metrics.ProcessorRunning.Set(0)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce loads the sites and runs every job against them.
func (s *Scheduler) RunOnce(ctx context.Context) {
	sites, err := LoadSites(ctx, s.store, s.collections, s.logger)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("load sites failed", "error", err)
		}
		return
	}

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		// Errors are logged by the processor.
		_, _ = job.Processor.Process(ctx, sites, job.Window)
	}
	s.ready.Store(true)
}
