// Package monitor samples host load on a fixed period and serves the
// latest smoothed snapshot to the admission controller and the stats
// API.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vodarr/vodarr/internal/hardware"
)

// Trend describes the direction of recent load movement.
type Trend string

const (
	// TrendRising means smoothed load is climbing.
	TrendRising Trend = "rising"
	// TrendFalling means smoothed load is dropping.
	TrendFalling Trend = "falling"
	// TrendStable means no significant movement.
	TrendStable Trend = "stable"
)

const (
	// DefaultPeriod is the sampling interval.
	DefaultPeriod = 2 * time.Second
	// emaAlpha is the smoothing weight for the newest sample.
	emaAlpha = 0.3
	// windowSamples is the trend window: 30 seconds at the default period.
	windowSamples = 15
	// slopeThreshold is the least-squares slope (percentage points per
	// sample) below which load counts as stable.
	slopeThreshold = 0.5
	// collectTimeout bounds one sampling pass so a hung nvidia-smi can
	// never stall the loop.
	collectTimeout = 1500 * time.Millisecond
)

// Snapshot is one published load sample. Collector failures surface as
// nil fields rather than zeroes so consumers can tell "no GPU" from
// "idle GPU".
type Snapshot struct {
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	GPUPercent    *float64  `json:"gpu_percent,omitempty"`
	GPUTempC      *float64  `json:"gpu_temp_c,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	OnBattery     bool      `json:"on_battery"`
	OnAC          bool      `json:"on_ac"`
	LoadFactor    float64   `json:"load_factor"`
	Trend         Trend     `json:"trend"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Monitor runs the sampling loop.
type Monitor struct {
	period time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	snap    Snapshot
	history []float64
	ema     float64
	seeded  bool

	// gpuMissing is set once nvidia-smi turns out to be absent, so the
	// loop stops forking a doomed process every two seconds.
	gpuMissing bool
}

// New creates a monitor with the default period.
func New(logger *slog.Logger) *Monitor {
	return &Monitor{
		period: DefaultPeriod,
		logger: logger.With(slog.String("component", "monitor")),
		snap:   Snapshot{Trend: TrendStable, OnAC: true},
	}
}

// WithPeriod overrides the sampling period.
func (m *Monitor) WithPeriod(period time.Duration) *Monitor {
	if period > 0 {
		m.period = period
	}
	return m
}

// Run samples until ctx is cancelled. Call it in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// Snapshot returns a copy of the latest sample.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// sample runs all collectors under one timeout and publishes a snapshot.
func (m *Monitor) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	snap := Snapshot{SampledAt: time.Now().UTC()}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = &pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = &vm.UsedPercent
	}

	m.collectGPU(ctx, &snap)

	power := hardware.PowerSource(ctx)
	snap.OnBattery = power.OnBattery
	snap.OnAC = !power.OnBattery

	m.mu.Lock()
	m.smooth(&snap)
	m.snap = snap
	m.mu.Unlock()
}

func (m *Monitor) collectGPU(ctx context.Context, snap *Snapshot) {
	m.mu.RLock()
	missing := m.gpuMissing
	m.mu.RUnlock()
	if missing {
		return
	}

	gpu, err := hardware.QueryGPU(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			m.mu.Lock()
			m.gpuMissing = true
			m.mu.Unlock()
			m.logger.Debug("nvidia-smi not present, disabling gpu sampling")
		}
		return
	}

	snap.GPUPercent = &gpu.UtilizationPercent
	temp := float64(gpu.TemperatureC)
	snap.GPUTempC = &temp
}

// smooth folds the new raw sample into the EMA, recomputes the trend
// window, and fills LoadFactor/Trend. Caller holds the lock.
func (m *Monitor) smooth(snap *Snapshot) {
	raw, ok := maxPresent(snap.CPUPercent, snap.GPUPercent)
	if !ok {
		// Every collector failed this tick; hold the previous smoothed
		// state rather than publishing a fake zero.
		snap.LoadFactor = m.snap.LoadFactor
		snap.Trend = m.snap.Trend
		return
	}

	if !m.seeded {
		m.ema = raw
		m.seeded = true
	} else {
		m.ema = emaAlpha*raw + (1-emaAlpha)*m.ema
	}

	m.history = append(m.history, m.ema)
	if len(m.history) > windowSamples {
		m.history = m.history[1:]
	}

	snap.LoadFactor = m.ema / 100
	snap.Trend = classifyTrend(m.history)
}

// maxPresent returns the largest non-nil percentage.
func maxPresent(values ...*float64) (float64, bool) {
	var (
		found bool
		best  float64
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		if !found || *v > best {
			best = *v
			found = true
		}
	}
	return best, found
}

// classifyTrend fits a least-squares line through the window and maps
// the slope to a direction.
func classifyTrend(history []float64) Trend {
	slope := leastSquaresSlope(history)
	switch {
	case slope >= slopeThreshold:
		return TrendRising
	case slope <= -slopeThreshold:
		return TrendFalling
	default:
		return TrendStable
	}
}

// leastSquaresSlope returns the fitted slope in percentage points per
// sample. Fewer than two samples have no slope.
func leastSquaresSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
