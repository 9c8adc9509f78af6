package handlers

import (
	"strings"

	"github.com/vodarr/vodarr/internal/admission"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/monitor"
	"github.com/vodarr/vodarr/internal/registry"
)

// Waker pokes the engine's dispatch loop after a submission.
type Waker interface {
	Wake()
}

// Decider exposes the admission controller's current verdict.
type Decider interface {
	Decide(active int) admission.Decision
}

// Snapshotter provides the latest load sample.
type Snapshotter interface {
	Snapshot() monitor.Snapshot
}

// JobGauges exposes the registry's live counters.
type JobGauges interface {
	ActiveCount() int
	QueueLength() int
}

// StatsSource exposes the registry's lifetime counters.
type StatsSource interface {
	Stats() registry.Stats
}

// jobBody returns a value copy of the job with its artifact URLs made
// absolute against the configured base URL.
func jobBody(j *models.Job, baseURL string) models.Job {
	out := *j
	if baseURL != "" {
		base := strings.TrimRight(baseURL, "/")
		if out.StreamURL != "" {
			out.StreamURL = base + out.StreamURL
		}
		if out.DownloadURL != "" {
			out.DownloadURL = base + out.DownloadURL
		}
	}
	return out
}
