package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/vodarr/vodarr/internal/bus"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/subtitles"
)

// runJob owns one dispatched job until its terminal transition.
func (e *Engine) runJob(ctx context.Context, job *models.Job, qualityFactor float64) {
	logger := e.logger.With(slog.String("job_id", job.ID))

	src, err := e.prober.ProbeSource(ctx, job.Request.Source)
	if err != nil {
		// Planning falls back to defaults; only the ABR ladder needs
		// the probe to succeed.
		logger.Warn("source probe failed", slog.Any("error", err))
		src = nil
	}

	var subs []subtitles.Fetched
	if job.Request.Mode.HLS() && len(job.Request.Subtitles) > 0 {
		subs = e.subtitles.FetchAll(ctx, job.WorkingDir, job.Request.Subtitles)
	}

	input := PlanInput{
		Request:       job.Request,
		Source:        src,
		WorkDir:       job.WorkingDir,
		QualityFactor: qualityFactor,
		Subtitles:     subs,
	}

	plan, err := e.planner.Plan(input)
	if err != nil {
		logger.Error("planning failed", slog.Any("error", err))
		e.finish(job, models.StatusError, fmt.Sprintf("planning failed: %v", err))
		return
	}

	e.execute(ctx, job, input, plan, logger)
}

// execute runs the plan's attempt loop: retries with backoff for
// recoverable failures, one replan onto software for hardware failures,
// and the terminal transition in every exit path.
func (e *Engine) execute(ctx context.Context, job *models.Job, input PlanInput, plan *Plan, logger *slog.Logger) {
	cancelCh, ok := e.registry.CancelChan(job.ID)
	if !ok {
		logger.Warn("job vanished before execution")
		return
	}

	attempt := 0
	run := 0
	resourceRetried := false
	unknownRetried := false

	for {
		if err := e.registry.SetPlan(job.ID, plan.HWAccel, plan.DurationS); err != nil {
			logger.Warn("recording plan", slog.Any("error", err))
		}
		// Every re-entry wipes previous outputs, including the
		// software replan, which resets the attempt counter.
		if err := e.stageWorkspace(job, plan, run > 0); err != nil {
			logger.Error("staging workspace", slog.Any("error", err))
			e.finish(job, models.StatusError, fmt.Sprintf("staging workspace: %v", err))
			return
		}
		run++

		err := e.runAttempt(ctx, job, plan, cancelCh)
		if err == nil {
			err = e.validateOutput(job, plan)
		}
		if err == nil {
			e.complete(job, plan, logger)
			return
		}

		var perr *ffmpeg.ProcessError
		if !errors.As(err, &perr) {
			logger.Error("job failed", slog.Any("error", err))
			e.finish(job, models.StatusError, err.Error())
			return
		}

		if perr.Cancelled {
			e.finish(job, models.StatusCancelled, "")
			return
		}

		if perr.Class == ffmpeg.ErrorClassHardware {
			if plan.HWAccel.Hardware() && e.cfg.Hardware.FallbackToSoftware {
				logger.Warn("hardware encode failed, replanning on software",
					slog.String("hw_accel", string(plan.HWAccel)),
					slog.String("stderr", perr.Stderr))
				input.ForceSoftware = true
				next, perr2 := e.planner.Plan(input)
				if perr2 != nil {
					e.finish(job, models.StatusError, fmt.Sprintf("software replan failed: %v", perr2))
					return
				}
				plan = next
				attempt = 0
				if err := e.registry.SetAttempt(job.ID, 0); err != nil {
					logger.Warn("resetting attempt", slog.Any("error", err))
				}
				continue
			}
			logger.Error("hardware encode failed without fallback", slog.String("stderr", perr.Stderr))
			e.finish(job, models.StatusError, failureMessage(perr))
			return
		}

		if !e.shouldRetry(perr, attempt, &resourceRetried, &unknownRetried) {
			logger.Error("job failed",
				slog.Int("attempt", attempt),
				slog.String("error_class", string(perr.Class)),
				slog.String("stderr", perr.Stderr))
			e.finish(job, models.StatusError, failureMessage(perr))
			return
		}

		attempt++
		if err := e.registry.SetAttempt(job.ID, attempt); err != nil {
			logger.Warn("recording attempt", slog.Any("error", err))
		}
		delay := e.backoff(attempt)
		logger.Warn("attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error_class", string(perr.Class)),
			slog.Bool("stalled", perr.Stalled),
			slog.Duration("backoff", delay))

		select {
		case <-time.After(delay):
		case <-cancelCh:
			e.finish(job, models.StatusCancelled, "")
			return
		case <-ctx.Done():
			e.finish(job, models.StatusCancelled, "")
			return
		}
	}
}

// shouldRetry applies the per-class retry budgets. Stalls and transient
// failures share the configured retry count; resource and unknown
// failures get a single retry each.
func (e *Engine) shouldRetry(perr *ffmpeg.ProcessError, attempt int, resourceRetried, unknownRetried *bool) bool {
	if perr.Stalled || perr.Class == ffmpeg.ErrorClassTransient {
		return attempt < e.cfg.Transcoding.RetryCount
	}
	switch perr.Class {
	case ffmpeg.ErrorClassResource:
		if *resourceRetried {
			return false
		}
		*resourceRetried = true
		return true
	case ffmpeg.ErrorClassUnknown:
		if *unknownRetried {
			return false
		}
		*unknownRetried = true
		return true
	default:
		return false
	}
}

// runAttempt runs every command of the plan in order, publishing
// throttled progress. Two-pass plans map each pass onto half of the
// progress range so the bar does not run to the end twice.
func (e *Engine) runAttempt(ctx context.Context, job *models.Job, plan *Plan, cancelCh <-chan struct{}) error {
	limiter := rate.NewLimiter(rate.Every(progressInterval), 1)
	passes := len(plan.Commands)

	for i, cmd := range plan.Commands {
		base := float64(i) / float64(passes) * 100
		scale := 1.0 / float64(passes)

		onProgress := func(p ffmpeg.Progress) {
			if !p.End && !limiter.Allow() {
				return
			}
			update := models.ProgressUpdate{
				CurrentTimeS: p.OutTime.Seconds(),
				Speed:        p.Speed,
				FPS:          p.FPS,
				Frame:        p.Frame,
			}
			if plan.DurationS > 0 {
				pct := p.OutTime.Seconds() / plan.DurationS * 100
				update.Progress = base + pct*scale
			}
			if err := e.registry.UpdateProgress(job.ID, update); err != nil {
				return
			}
			// Publish the registry's view, not the raw sample, so
			// subscribers see the same clamped values the status
			// endpoint reports.
			if snap, ok := e.registry.Get(job.ID); ok && snap.Status == models.StatusProcessing {
				e.bus.PublishProgress(job.ID, bus.ProgressData{
					Progress: snap.Progress,
					Frame:    snap.Frame,
					FPS:      snap.FPS,
					Time:     snap.CurrentTimeS,
					Speed:    snap.Speed,
				})
			}
		}

		opts := ffmpeg.RunOptions{
			StallTimeout: time.Duration(e.cfg.Transcoding.StallTimeoutS) * time.Second,
			Cancel:       cancelCh,
			OnProgress:   onProgress,
		}
		if err := e.runner.Run(ctx, cmd, opts); err != nil {
			return err
		}
	}
	return nil
}

// stageWorkspace prepares the job directory for an attempt: retries
// wipe previous outputs, then the variant directories ffmpeg expects
// and the generated playlists are (re)written.
func (e *Engine) stageWorkspace(job *models.Job, plan *Plan, wipe bool) error {
	if wipe {
		if err := e.clearOutputs(job.WorkingDir); err != nil {
			return err
		}
	}

	for _, dir := range plan.VariantDirs() {
		if err := os.MkdirAll(filepath.Join(job.WorkingDir, dir), 0o750); err != nil {
			return fmt.Errorf("creating variant directory: %w", err)
		}
	}

	for _, sidecar := range plan.Subtitles {
		if err := e.store.WriteMediaPlaylist(job.ID, sidecar.Rel, sidecar.Media); err != nil {
			return fmt.Errorf("writing subtitle playlist: %w", err)
		}
	}
	if plan.Master != nil {
		if err := e.store.WriteMasterPlaylist(job.ID, plan.Master); err != nil {
			return fmt.Errorf("writing master playlist: %w", err)
		}
	}
	return nil
}

// clearOutputs removes everything an earlier attempt produced, keeping
// the fetched subtitle tracks.
func (e *Engine) clearOutputs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() == "subs" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clearing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// complete finalizes artifacts and transitions the job to ready.
func (e *Engine) complete(job *models.Job, plan *Plan, logger *slog.Logger) {
	if plan.Mode.HLS() {
		if err := e.store.FinalizePlaylists(job.ID); err != nil {
			logger.Warn("finalizing playlists", slog.Any("error", err))
		}
		// The hls muxer rewrites the master playlist during ABR runs
		// and knows nothing about subtitle renditions, so ours goes
		// back in on top.
		if plan.Master != nil && len(plan.Subtitles) > 0 {
			if err := e.store.WriteMasterPlaylist(job.ID, plan.Master); err != nil {
				logger.Warn("restoring master playlist", slog.Any("error", err))
			}
		}
	} else {
		if err := e.registry.SetOutputs(job.ID, "", "/download/"+job.ID); err != nil {
			logger.Warn("recording download url", slog.Any("error", err))
		}
	}

	e.finish(job, models.StatusReady, "")
	logger.Info("job completed", slog.String("mode", string(plan.Mode)))
}

func (e *Engine) finish(job *models.Job, status models.JobStatus, errMsg string) {
	if _, err := e.registry.SetStatus(job.ID, status, errMsg); err != nil {
		e.logger.Warn("applying terminal status",
			slog.String("job_id", job.ID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

func failureMessage(perr *ffmpeg.ProcessError) string {
	msg := perr.Error()
	if perr.Stderr != "" {
		msg += ": " + perr.Stderr
	}
	return msg
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * e.backoffBase
	if d > backoffCap {
		return backoffCap
	}
	return d
}
