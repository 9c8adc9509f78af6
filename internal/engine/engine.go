// Package engine turns queued jobs into running ffmpeg processes. The
// dispatcher pulls from the registry queue as fast as admission allows,
// and one worker goroutine per job owns the attempt loop: probing,
// planning, supervising the encoder, retries, hardware fallback, and
// the terminal transition.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vodarr/vodarr/internal/admission"
	"github.com/vodarr/vodarr/internal/bus"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/registry"
	"github.com/vodarr/vodarr/internal/segments"
	"github.com/vodarr/vodarr/internal/subtitles"
)

const (
	// dispatchInterval is the queue poll cadence. Submissions also wake
	// the dispatcher directly, so this mostly covers retries after a
	// denied admission check.
	dispatchInterval = 250 * time.Millisecond

	// shutdownGrace bounds the wait for running workers at shutdown.
	// Workers observe context cancellation through the process runner,
	// which interrupts ffmpeg, so this only trips when an encoder
	// ignores its termination signal.
	shutdownGrace = 10 * time.Second

	// progressInterval throttles per-job progress fanout. ffmpeg emits
	// samples faster than any consumer needs them.
	progressInterval = 500 * time.Millisecond

	// backoffCap bounds the exponential retry delay.
	backoffCap = 30 * time.Second
)

// ProcessRunner supervises one encoder invocation until exit. Satisfied
// by *ffmpeg.Runner.
type ProcessRunner interface {
	Run(ctx context.Context, command *ffmpeg.Command, opts ffmpeg.RunOptions) error
}

// SourceProber inspects transcode inputs. Satisfied by *ffmpeg.Prober.
type SourceProber interface {
	ProbeSource(ctx context.Context, url string) (*ffmpeg.SourceInfo, error)
}

// Decider makes admission decisions. Satisfied by *admission.Controller.
type Decider interface {
	Decide(active int) admission.Decision
}

// Deps collects the engine's collaborators. Completion callbacks are
// not among them: the registry transition hook owns those, so that
// cancellations applied outside a worker notify too.
type Deps struct {
	Registry  *registry.Registry
	Store     *segments.Store
	Admission Decider
	Planner   *Planner
	Runner    ProcessRunner
	Prober    SourceProber
	Subtitles *subtitles.Fetcher
	Bus       *bus.Bus
}

// Engine owns the dispatch loop and the job workers.
type Engine struct {
	cfg       *config.Config
	registry  *registry.Registry
	store     *segments.Store
	admission Decider
	planner   *Planner
	runner    ProcessRunner
	prober    SourceProber
	subtitles *subtitles.Fetcher
	bus       *bus.Bus
	logger    *slog.Logger

	// backoffBase scales the exponential retry delay. Tests shrink it.
	backoffBase time.Duration

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates an engine. Run must be called to start dispatching.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		registry:    deps.Registry,
		store:       deps.Store,
		admission:   deps.Admission,
		planner:     deps.Planner,
		runner:      deps.Runner,
		prober:      deps.Prober,
		subtitles:   deps.Subtitles,
		bus:         deps.Bus,
		logger:      logger.With(slog.String("component", "engine")),
		backoffBase: time.Second,
		wake:        make(chan struct{}, 1),
	}
}

// Run dispatches queued jobs until the context is cancelled, then waits
// for running workers to wind down.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started")
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		e.dispatch(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			e.waitWorkers()
			return
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

// Wake nudges the dispatcher ahead of its next tick so a fresh
// submission starts without waiting out the poll interval.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// dispatch starts queued jobs until admission denies or the queue is
// empty. Admission is re-evaluated per job because each start changes
// the active count.
func (e *Engine) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		decision := e.admission.Decide(e.registry.ActiveCount())
		if !decision.Allow {
			return
		}
		job, ok := e.registry.NextQueued()
		if !ok {
			return
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runJob(ctx, job, decision.QualityFactor)
		}()
	}
}

func (e *Engine) waitWorkers() {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("all workers stopped")
	case <-time.After(shutdownGrace):
		e.logger.Warn("workers still running at shutdown deadline")
	}
}
