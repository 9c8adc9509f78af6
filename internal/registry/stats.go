package registry

import (
	"github.com/vodarr/vodarr/internal/models"
)

// Stats is the lifetime counter snapshot served by the stats endpoint.
type Stats struct {
	// TotalJobs is the number of records currently held.
	TotalJobs int `json:"total_jobs"`
	// QueuedJobs is the number waiting for dispatch.
	QueuedJobs int `json:"queued_jobs"`
	// ProcessingJobs is the number currently encoding.
	ProcessingJobs int `json:"processing_jobs"`

	// Processed counts every job that reached a terminal status.
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`

	// BytesProcessed sums the output tree sizes of completed jobs.
	BytesProcessed int64 `json:"bytes_processed"`

	// AverageSpeed is the running mean of the final realtime encode
	// factor of completed jobs, 0 when none completed yet.
	AverageSpeed float64 `json:"average_speed"`

	// HWAccelUsage counts terminal jobs per encoder family used.
	HWAccelUsage map[models.HWAccel]int64 `json:"hw_accel_usage"`
}

// Stats returns a snapshot of the lifetime counters and current gauges.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalJobs:      len(r.jobs),
		QueuedJobs:     len(r.queue),
		Processed:      r.counters.processed,
		Succeeded:      r.counters.succeeded,
		Failed:         r.counters.failed,
		Cancelled:      r.counters.cancelled,
		BytesProcessed: r.counters.bytes,
		HWAccelUsage:   make(map[models.HWAccel]int64, len(r.counters.hwAccel)),
	}
	for _, e := range r.jobs {
		if e.job.Status == models.StatusProcessing {
			s.ProcessingJobs++
		}
	}
	if r.counters.speedN > 0 {
		s.AverageSpeed = r.counters.speedSum / float64(r.counters.speedN)
	}
	for k, v := range r.counters.hwAccel {
		s.HWAccelUsage[k] = v
	}
	return s
}
