package hardware

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GPUStats is one nvidia-smi sample. Utilization and temperature move
// per call; name, driver, and total memory are stable.
type GPUStats struct {
	Index              int     `json:"index"`
	Name               string  `json:"name"`
	DriverVersion      string  `json:"driver_version"`
	UtilizationPercent float64 `json:"utilization_percent"`
	MemoryUsedMB       uint64  `json:"memory_used_mb"`
	MemoryTotalMB      uint64  `json:"memory_total_mb"`
	TemperatureC       int     `json:"temperature_c"`
	EncoderUtilization float64 `json:"encoder_utilization"`
}

// QueryGPU returns stats for the first NVIDIA GPU, or an error when
// nvidia-smi is absent or reports nothing. Non-NVIDIA hosts always
// error here; callers treat that as "no VRAM/GPU telemetry", not as a
// failure.
func QueryGPU(ctx context.Context) (*GPUStats, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,driver_version,utilization.gpu,memory.used,memory.total,temperature.gpu,utilization.encoder",
		"--format=csv,noheader,nounits")

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("nvidia-smi returned no GPUs")
	}

	stats, err := parseGPULine(lines[0])
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func parseGPULine(line string) (*GPUStats, error) {
	parts := strings.Split(line, ", ")
	if len(parts) < 8 {
		return nil, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}

	index, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	utilization, _ := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	memUsed, _ := strconv.ParseUint(strings.TrimSpace(parts[4]), 10, 64)
	memTotal, _ := strconv.ParseUint(strings.TrimSpace(parts[5]), 10, 64)
	temp, _ := strconv.Atoi(strings.TrimSpace(parts[6]))
	encUtil, _ := strconv.ParseFloat(strings.TrimSpace(parts[7]), 64)

	return &GPUStats{
		Index:              index,
		Name:               strings.TrimSpace(parts[1]),
		DriverVersion:      strings.TrimSpace(parts[2]),
		UtilizationPercent: utilization,
		MemoryUsedMB:       memUsed,
		MemoryTotalMB:      memTotal,
		TemperatureC:       temp,
		EncoderUtilization: encUtil,
	}, nil
}
