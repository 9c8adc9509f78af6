package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vodarr/vodarr/internal/admission"
	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/monitor"
	"github.com/vodarr/vodarr/internal/registry"
)

// SystemHandler serves the capability, stats, and composite status
// endpoints.
type SystemHandler struct {
	profile   *hardware.Profile
	monitor   Snapshotter
	admission Decider
	stats     StatsSource
	startTime time.Time
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(profile *hardware.Profile, mon Snapshotter, dec Decider, stats StatsSource) *SystemHandler {
	return &SystemHandler{
		profile:   profile,
		monitor:   mon,
		admission: dec,
		stats:     stats,
		startTime: time.Now(),
	}
}

// CapabilitiesInput is the input for the capabilities endpoint.
type CapabilitiesInput struct{}

// CapabilitiesOutput is the output for the capabilities endpoint.
type CapabilitiesOutput struct {
	Body hardware.Profile
}

// StatsInput is the input for the stats endpoint.
type StatsInput struct{}

// StatsBody is the stats payload: registry lifetime counters plus
// process uptime.
type StatsBody struct {
	registry.Stats
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatsOutput is the output for the stats endpoint.
type StatsOutput struct {
	Body StatsBody
}

// StatusInput is the input for the composite status endpoint.
type StatusInput struct{}

// HardwareSummary condenses the capability snapshot for the status
// endpoint; the full profile lives at /api/capabilities.
type HardwareSummary struct {
	Tier          hardware.Tier     `json:"tier"`
	MaxResolution models.Resolution `json:"max_resolution"`
	MaxJobs       int               `json:"max_jobs"`
	Families      []models.HWAccel  `json:"families,omitempty"`
	GPUName       string            `json:"gpu_name,omitempty"`
}

// JobCounts is the job gauge block of the status endpoint.
type JobCounts struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
	Total  int `json:"total"`
}

// StatusBody is the composite status payload.
type StatusBody struct {
	Hardware  HardwareSummary    `json:"hardware"`
	Realtime  monitor.Snapshot   `json:"realtime"`
	Admission admission.Decision `json:"admission"`
	Jobs      JobCounts          `json:"jobs"`
}

// StatusOutput is the output for the composite status endpoint.
type StatusOutput struct {
	Body StatusBody
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCapabilities",
		Method:      "GET",
		Path:        "/api/capabilities",
		Summary:     "Hardware capabilities",
		Description: "Returns the startup hardware capability snapshot",
		Tags:        []string{"System"},
	}, h.GetCapabilities)

	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/api/stats",
		Summary:     "Lifetime statistics",
		Description: "Returns job counters, encoder family usage, and uptime",
		Tags:        []string{"System"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/status",
		Summary:     "Composite status",
		Description: "Returns hardware, realtime load, admission, and job gauges in one call",
		Tags:        []string{"System"},
	}, h.GetStatus)
}

// GetCapabilities returns the capability snapshot.
func (h *SystemHandler) GetCapabilities(ctx context.Context, input *CapabilitiesInput) (*CapabilitiesOutput, error) {
	return &CapabilitiesOutput{Body: *h.profile}, nil
}

// GetStats returns lifetime counters.
func (h *SystemHandler) GetStats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	return &StatsOutput{
		Body: StatsBody{
			Stats:         h.stats.Stats(),
			UptimeSeconds: time.Since(h.startTime).Seconds(),
		},
	}, nil
}

// GetStatus returns the composite status.
func (h *SystemHandler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	stats := h.stats.Stats()

	return &StatusOutput{
		Body: StatusBody{
			Hardware: HardwareSummary{
				Tier:          h.profile.Tier,
				MaxResolution: h.profile.MaxResolution,
				MaxJobs:       h.profile.MaxJobs,
				Families:      h.profile.Families,
				GPUName:       h.profile.GPUName,
			},
			Realtime:  h.monitor.Snapshot(),
			Admission: h.admission.Decide(stats.ProcessingJobs),
			Jobs: JobCounts{
				Active: stats.ProcessingJobs,
				Queued: stats.QueuedJobs,
				Total:  stats.TotalJobs,
			},
		},
	}, nil
}
