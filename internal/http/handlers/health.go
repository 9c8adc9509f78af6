package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthHandler serves the unauthenticated health probe.
type HealthHandler struct {
	version   string
	startTime time.Time
	jobs      JobGauges
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, jobs JobGauges) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		jobs:      jobs,
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	CurrentJobs   int        `json:"current_jobs"`
	QueuedJobs    int        `json:"queued_jobs"`
	System        SystemInfo `json:"system"`
}

// SystemInfo is the host resource block of the health payload.
type SystemInfo struct {
	CPU    CPUInfo    `json:"cpu"`
	Memory MemoryInfo `json:"memory"`
}

// CPUInfo reports core count and load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process-tree memory. The child
// processes counted here are the running ffmpeg encoders.
type MemoryInfo struct {
	TotalMemoryMB      float64 `json:"total_memory_mb"`
	UsedMemoryMB       float64 `json:"used_memory_mb"`
	AvailableMemoryMB  float64 `json:"available_memory_mb"`
	ProcessMemoryMB    float64 `json:"process_memory_mb"`
	EncoderMemoryMB    float64 `json:"encoder_memory_mb"`
	EncoderProcesses   int     `json:"encoder_processes"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/health",
		Summary:     "Health check",
		Description: "Returns service health, job counts, and host load",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	uptime := time.Since(h.startTime)

	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Version:       h.version,
			UptimeSeconds: uptime.Seconds(),
			CurrentJobs:   h.jobs.ActiveCount(),
			QueuedJobs:    h.jobs.QueueLength(),
			System: SystemInfo{
				CPU:    h.getCPUInfo(),
				Memory: h.getMemoryInfo(),
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage for the system, the server
// process, and its encoder children.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}

	children, err := proc.Children()
	if err == nil {
		info.EncoderProcesses = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				info.EncoderMemoryMB += float64(childMem.RSS) / 1024 / 1024
			}
		}
	}

	if info.TotalMemoryMB > 0 {
		info.PercentageOfSystem = (info.ProcessMemoryMB + info.EncoderMemoryMB) / info.TotalMemoryMB * 100
	}

	return info
}
