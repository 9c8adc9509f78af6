package models

import (
	"time"
)

// JobStatus represents the externally visible state of a job.
type JobStatus string

const (
	// StatusQueued indicates the job is waiting for admission.
	StatusQueued JobStatus = "queued"
	// StatusProcessing indicates ffmpeg is running (including internal
	// retries and hardware fallback, which never leave this state).
	StatusProcessing JobStatus = "processing"
	// StatusReady indicates output was produced and validated.
	StatusReady JobStatus = "ready"
	// StatusError indicates the job failed permanently.
	StatusError JobStatus = "error"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusError || s == StatusCancelled
}

// CanTransitionTo reports whether next is a legal successor state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusReady || next == StatusError || next == StatusCancelled
	default:
		return false
	}
}

// Job is the record of one transcode. The registry owns the authoritative
// copy; everything handed out is a snapshot.
type Job struct {
	// ID is the job identifier (a ULID).
	ID string `json:"id"`

	// Request is the validated submission, immutable after submit.
	Request TranscodeRequest `json:"request"`

	// Status is the current state.
	Status JobStatus `json:"status"`

	// Progress is percent complete, 0..100. Monotonic within an attempt.
	Progress float64 `json:"progress"`

	// CurrentTimeS is the output timestamp reached, in seconds.
	CurrentTimeS float64 `json:"current_time_s"`

	// DurationS is the expected output duration in seconds, 0 if unknown.
	DurationS float64 `json:"duration_s,omitempty"`

	// Speed is the realtime encode factor, e.g. 2.5 for 2.5x.
	Speed float64 `json:"speed,omitempty"`

	// FPS is the current encode frame rate.
	FPS float64 `json:"fps,omitempty"`

	// Frame is the last encoded frame number.
	Frame int64 `json:"frame,omitempty"`

	// ETAs is the estimated seconds remaining, 0 if unknown.
	ETAs float64 `json:"eta_s,omitempty"`

	// HWAccelUsed is the encoder family the active plan uses.
	HWAccelUsed HWAccel `json:"hw_accel_used,omitempty"`

	// StreamURL is the master playlist path for HLS modes.
	StreamURL string `json:"stream_url,omitempty"`

	// DownloadURL is the output file path for completed batch jobs.
	DownloadURL string `json:"download_url,omitempty"`

	// ErrorMessage carries the failure cause for error status, at most
	// the final 2 KB of encoder stderr.
	ErrorMessage string `json:"error_message,omitempty"`

	// Attempt is the zero-based retry counter of the current plan.
	Attempt int `json:"attempt"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// WorkingDir is the job workspace under the temp root.
	WorkingDir string `json:"-"`

	// LastAccess is refreshed by stream reads so the janitor keeps
	// actively watched jobs alive.
	LastAccess time.Time `json:"-"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if len(j.Request.Subtitles) > 0 {
		c.Request.Subtitles = make([]SubtitleTrack, len(j.Request.Subtitles))
		copy(c.Request.Subtitles, j.Request.Subtitles)
	}
	return &c
}

// ProgressUpdate carries one progress sample from the encode supervisor
// into the registry.
type ProgressUpdate struct {
	// Progress is percent complete, 0..100.
	Progress float64

	// CurrentTimeS is the output timestamp reached, in seconds.
	CurrentTimeS float64

	// Speed is the realtime encode factor.
	Speed float64

	// FPS is the current encode frame rate.
	FPS float64

	// Frame is the last encoded frame number.
	Frame int64
}

// NewJob builds a queued job record for a validated request. HLS modes
// get their stream URL immediately: the playlist path is fixed by the
// job ID and the stream handler waits for playlists that do not exist
// yet.
func NewJob(req TranscodeRequest) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:         NewID(),
		Request:    req,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastAccess: now,
	}
	if req.Mode.HLS() {
		j.StreamURL = "/stream/" + j.ID + "/master.m3u8"
	}
	return j
}
