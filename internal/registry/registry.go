// Package registry is the in-memory job table: every job the server
// knows about lives here from submission until the janitor evicts it.
// It owns the queued-job FIFO, the per-job cancel signals, and the
// lifecycle counters served by the stats endpoint.
//
// Concurrency contract: one RWMutex guards the table and the queue.
// Once a job is dequeued its record is mutated only through the typed
// update funcs called by the worker that owns it; everything handed
// out is a snapshot copy.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
)

var (
	// ErrNotFound means no job with the given ID exists.
	ErrNotFound = errors.New("job not found")

	// ErrCapacity means the registry is full of live jobs.
	ErrCapacity = errors.New("job capacity reached")

	// ErrNotTerminal means delete was called on a live job.
	ErrNotTerminal = errors.New("job is not in a terminal state")

	// ErrIllegalTransition means the requested status change is not a
	// legal successor of the current status.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Progress is capped just under complete until the process actually
// exits; the terminal transition pins it to 100.
const maxReportedProgress = 99.9

// Workspace creates and removes per-job working directories. Satisfied
// by segments.Store.
type Workspace interface {
	Create(id string) (string, error)
	Remove(id string) error
}

// TransitionHook observes every applied status transition. The job is a
// snapshot; the hook runs outside the registry lock, after the change.
type TransitionHook func(job *models.Job, from models.JobStatus)

type entry struct {
	job        *models.Job
	cancel     chan struct{}
	cancelOnce sync.Once
}

// Registry holds all job records.
type Registry struct {
	logger    *slog.Logger
	workspace Workspace

	maxTotal    int
	maxTerminal int
	retention   time.Duration

	hook TransitionHook

	mu    sync.RWMutex
	jobs  map[string]*entry
	queue []string

	counters counters
}

type counters struct {
	processed int64
	succeeded int64
	failed    int64
	cancelled int64
	bytes     int64
	speedSum  float64
	speedN    int64
	hwAccel   map[models.HWAccel]int64
}

// New creates a registry with the configured retention limits.
func New(cfg config.JobsConfig, ws Workspace, logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger.With(slog.String("component", "registry")),
		workspace:   ws,
		maxTotal:    cfg.MaxTotal,
		maxTerminal: cfg.MaxTerminal,
		retention:   cfg.Retention,
		jobs:        make(map[string]*entry),
		counters:    counters{hwAccel: make(map[models.HWAccel]int64)},
	}
}

// WithTransitionHook registers a status-change observer. Must be called
// before the registry is shared.
func (r *Registry) WithTransitionHook(hook TransitionHook) *Registry {
	r.hook = hook
	return r
}

// Submit creates a queued job for a validated request. When the table
// is full, one expired terminal record is evicted to make room; a table
// full of live jobs returns ErrCapacity.
func (r *Registry) Submit(req models.TranscodeRequest) (*models.Job, error) {
	job := models.NewJob(req)

	dir, err := r.workspace.Create(job.ID)
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	job.WorkingDir = dir

	r.mu.Lock()
	var evicted []string
	if len(r.jobs) >= r.maxTotal {
		evicted = r.evictOldestTerminalLocked(len(r.jobs) - r.maxTotal + 1)
	}
	if len(r.jobs) >= r.maxTotal {
		r.mu.Unlock()
		r.removeDirs(evicted)
		if err := r.workspace.Remove(job.ID); err != nil {
			r.logger.Warn("removing working directory",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
		return nil, ErrCapacity
	}
	r.jobs[job.ID] = &entry{job: job, cancel: make(chan struct{})}
	r.queue = append(r.queue, job.ID)
	snap := job.Clone()
	queued := len(r.queue)
	r.mu.Unlock()

	r.removeDirs(evicted)
	r.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("mode", string(req.Mode)),
		slog.String("source", req.Source),
		slog.Int("queue_length", queued))
	return snap, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (*models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

// Has reports whether a job with the given ID exists.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.jobs[id]
	return ok
}

// Touch refreshes the job's last-access time so the janitor keeps it
// alive while clients are still streaming it.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.jobs[id]; ok {
		e.job.LastAccess = time.Now().UTC()
	}
}

// NextQueued pops the oldest queued job and marks it processing in the
// same critical section, so a dispatched job can never also be
// cancelled out of the queue.
func (r *Registry) NextQueued() (*models.Job, bool) {
	r.mu.Lock()
	for len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		e, ok := r.jobs[id]
		if !ok || e.job.Status != models.StatusQueued {
			continue
		}
		from := r.applyLocked(e, models.StatusProcessing, "")
		snap := e.job.Clone()
		r.mu.Unlock()

		r.logger.Info("job dispatched", slog.String("job_id", id))
		r.notify(snap, from)
		return snap, true
	}
	r.mu.Unlock()
	return nil, false
}

// UpdateProgress applies one progress sample. Percent and output time
// are monotonic within an attempt; late samples arriving after the
// terminal transition are dropped.
func (r *Registry) UpdateProgress(id string, u models.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j := e.job
	if j.Status != models.StatusProcessing {
		return nil
	}

	p := math.Min(math.Max(u.Progress, 0), maxReportedProgress)
	if p > j.Progress {
		j.Progress = p
	}
	if u.CurrentTimeS > j.CurrentTimeS {
		j.CurrentTimeS = u.CurrentTimeS
	}
	if u.Speed > 0 {
		j.Speed = u.Speed
	}
	if u.FPS > 0 {
		j.FPS = u.FPS
	}
	if u.Frame > j.Frame {
		j.Frame = u.Frame
	}
	if j.DurationS > 0 && j.Speed > 0 {
		remaining := j.DurationS - j.CurrentTimeS
		if remaining < 0 {
			remaining = 0
		}
		j.ETAs = remaining / j.Speed
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// SetPlan records the encoder family and expected duration resolved at
// plan time. Called again on hardware fallback replans.
func (r *Registry) SetPlan(id string, hw models.HWAccel, durationS float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	e.job.HWAccelUsed = hw
	if durationS > 0 {
		e.job.DurationS = durationS
	}
	e.job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAttempt records a retry and resets the per-attempt progress
// fields.
func (r *Registry) SetAttempt(id string, attempt int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j := e.job
	j.Attempt = attempt
	j.Progress = 0
	j.CurrentTimeS = 0
	j.Speed = 0
	j.FPS = 0
	j.Frame = 0
	j.ETAs = 0
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// SetOutputs records the final artifact URLs. Empty values leave the
// existing fields untouched.
func (r *Registry) SetOutputs(id, streamURL, downloadURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if streamURL != "" {
		e.job.StreamURL = streamURL
	}
	if downloadURL != "" {
		e.job.DownloadURL = downloadURL
	}
	e.job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus applies a legal status transition, stamping timestamps and
// the terminal counters. It returns the previous status.
func (r *Registry) SetStatus(id string, next models.JobStatus, errMsg string) (models.JobStatus, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return "", ErrNotFound
	}
	from := e.job.Status
	if !from.CanTransitionTo(next) {
		r.mu.Unlock()
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next)
	}
	r.applyLocked(e, next, errMsg)
	snap := e.job.Clone()
	r.mu.Unlock()

	if next == models.StatusReady {
		if n := dirSize(snap.WorkingDir); n > 0 {
			r.mu.Lock()
			r.counters.bytes += n
			r.mu.Unlock()
		}
	}

	r.logger.Info("job status changed",
		slog.String("job_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(next)))
	r.notify(snap, from)
	return from, nil
}

// Cancel requests cancellation. Queued jobs transition synchronously;
// processing jobs get their cancel signal fired and the owning worker
// performs the terminal transition. Cancelling a terminal job is a
// no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	switch e.job.Status {
	case models.StatusQueued:
		r.dequeueLocked(id)
		from := r.applyLocked(e, models.StatusCancelled, "")
		snap := e.job.Clone()
		r.mu.Unlock()

		r.logger.Info("queued job cancelled", slog.String("job_id", id))
		r.notify(snap, from)
		return nil

	case models.StatusProcessing:
		e.cancelOnce.Do(func() { close(e.cancel) })
		r.mu.Unlock()

		r.logger.Info("cancel signalled", slog.String("job_id", id))
		return nil

	default:
		r.mu.Unlock()
		return nil
	}
}

// CancelChan returns the job's cancel signal channel. The engine
// selects on it while supervising the encoder process.
func (r *Registry) CancelChan(id string) (<-chan struct{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return e.cancel, true
}

// Delete removes a terminal job's record and working directory. Live
// jobs must be cancelled first.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !e.job.Status.IsTerminal() {
		r.mu.Unlock()
		return ErrNotTerminal
	}
	delete(r.jobs, id)
	r.mu.Unlock()

	if err := r.workspace.Remove(id); err != nil {
		r.logger.Warn("removing working directory",
			slog.String("job_id", id), slog.Any("error", err))
	}
	r.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// ActiveCount returns the number of processing jobs.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.jobs {
		if e.job.Status == models.StatusProcessing {
			n++
		}
	}
	return n
}

// QueueLength returns the number of jobs waiting for dispatch.
func (r *Registry) QueueLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queue)
}

// List returns snapshots of all jobs, oldest first.
func (r *Registry) List() []*models.Job {
	r.mu.RLock()
	out := make([]*models.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// applyLocked mutates the entry's status and stamps timestamps and the
// terminal counters. Callers hold the write lock and have verified the
// transition. Returns the previous status.
func (r *Registry) applyLocked(e *entry, next models.JobStatus, errMsg string) models.JobStatus {
	from := e.job.Status
	now := time.Now().UTC()
	e.job.Status = next
	e.job.UpdatedAt = now

	switch {
	case next == models.StatusProcessing:
		if e.job.StartedAt == nil {
			e.job.StartedAt = &now
		}
	case next.IsTerminal():
		e.job.FinishedAt = &now
		if errMsg != "" {
			e.job.ErrorMessage = errMsg
		}
		if next == models.StatusReady {
			e.job.Progress = 100
			e.job.ETAs = 0
		}
		r.recordTerminalLocked(e.job)
	}
	return from
}

func (r *Registry) recordTerminalLocked(j *models.Job) {
	r.counters.processed++
	switch j.Status {
	case models.StatusReady:
		r.counters.succeeded++
		if j.Speed > 0 {
			r.counters.speedSum += j.Speed
			r.counters.speedN++
		}
	case models.StatusError:
		r.counters.failed++
	case models.StatusCancelled:
		r.counters.cancelled++
	}
	if j.HWAccelUsed != "" {
		r.counters.hwAccel[j.HWAccelUsed]++
	}
}

func (r *Registry) dequeueLocked(id string) {
	for i, qid := range r.queue {
		if qid == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(job *models.Job, from models.JobStatus) {
	if r.hook != nil && from != job.Status {
		r.hook(job, from)
	}
}

func (r *Registry) removeDirs(ids []string) {
	for _, id := range ids {
		if err := r.workspace.Remove(id); err != nil {
			r.logger.Warn("removing working directory",
				slog.String("job_id", id), slog.Any("error", err))
		}
	}
}

// dirSize sums the file sizes under root. Errors are treated as zero
// contribution; the result feeds a best-effort counter.
func dirSize(root string) int64 {
	if root == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
