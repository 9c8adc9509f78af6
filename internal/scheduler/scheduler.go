// Package scheduler runs the periodic maintenance the server needs
// while serving: registry eviction sweeps and orphaned segment cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/robfig/cron/v3"
)

const (
	janitorSpec = "@every 1m"
	orphanSpec  = "@every 5m"
)

// Registry is the maintenance surface of the job registry.
type Registry interface {
	// Janitor evicts expired terminal records and enforces retention
	// caps, returning how many records went.
	Janitor() int
	// Has reports whether a job id is live.
	Has(id string) bool
}

// SegmentStore is the maintenance surface of the segment store.
type SegmentStore interface {
	CleanOrphans(ctx context.Context, known func(id string) bool) (int, error)
}

// Scheduler owns the cron that fires the maintenance sweeps.
type Scheduler struct {
	registry Registry
	store    SegmentStore
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Start must be called to begin sweeping.
func New(reg Registry, store SegmentStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry: reg,
		store:    store,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start schedules the maintenance sweeps. The context bounds every
// sweep; cancelling it stops work even before Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	c := cron.New()
	tasks := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"registry janitor", janitorSpec, s.sweepRegistry},
		{"segment orphan cleanup", orphanSpec, s.sweepOrphans},
	}
	for _, task := range tasks {
		if _, err := c.AddFunc(task.spec, func() { s.runProtected(task.name, task.run) }); err != nil {
			s.cancel()
			s.ctx, s.cancel = nil, nil
			return fmt.Errorf("scheduling %s: %w", task.name, err)
		}
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started",
		slog.String("janitor", janitorSpec),
		slog.String("orphan_cleanup", orphanSpec))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runProtected shields the cron goroutine from a panicking sweep. A
// panic loses one run, not the schedule.
func (s *Scheduler) runProtected(name string, run func(context.Context)) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("maintenance sweep panicked",
				slog.String("task", name),
				slog.Any("error", err),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	run(ctx)
}

func (s *Scheduler) sweepRegistry(context.Context) {
	s.registry.Janitor()
}

func (s *Scheduler) sweepOrphans(ctx context.Context) {
	removed, err := s.store.CleanOrphans(ctx, s.registry.Has)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("orphan cleanup failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("removed orphaned job directories", slog.Int("count", removed))
	}
}
