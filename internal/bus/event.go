package bus

import (
	"time"

	"github.com/vodarr/vodarr/internal/models"
)

// Event types carried on the wire.
const (
	EventProgress     = "progress"
	EventStatusChange = "status_change"
	EventPing         = "ping"
	EventPong         = "pong"
)

// Event is the envelope every subscriber message uses.
type Event struct {
	Type  string     `json:"type"`
	JobID string     `json:"job_id,omitempty"`
	Data  any        `json:"data,omitempty"`
	TS    *time.Time `json:"ts,omitempty"`
}

// ProgressData mirrors the per-tick ffmpeg progress snapshot.
type ProgressData struct {
	Progress float64 `json:"progress"`
	Frame    int64   `json:"frame"`
	FPS      float64 `json:"fps"`
	Time     float64 `json:"time"`
	Speed    float64 `json:"speed"`
}

// StatusData announces a lifecycle transition.
type StatusData struct {
	Status       models.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// NewProgressEvent builds a progress event for a job.
func NewProgressEvent(jobID string, data ProgressData) Event {
	return Event{Type: EventProgress, JobID: jobID, Data: data}
}

// NewStatusEvent builds a status change event for a job.
func NewStatusEvent(jobID string, status models.JobStatus, errorMessage string) Event {
	return Event{
		Type:  EventStatusChange,
		JobID: jobID,
		Data:  StatusData{Status: status, ErrorMessage: errorMessage},
	}
}

// NewPingEvent builds a server heartbeat carrying the current time.
func NewPingEvent() Event {
	now := time.Now().UTC()
	return Event{Type: EventPing, TS: &now}
}
