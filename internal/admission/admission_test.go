package admission

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/monitor"
)

type stubMonitor struct {
	snap monitor.Snapshot
}

func (s stubMonitor) Snapshot() monitor.Snapshot { return s.snap }

func f64(v float64) *float64 { return &v }

func newController(t *testing.T, base, override int, snap monitor.Snapshot) *Controller {
	t.Helper()
	profile := &hardware.Profile{MaxJobs: base}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(profile, stubMonitor{snap: snap}, override, logger)
}

func TestDecideRuleMatrix(t *testing.T) {
	tests := []struct {
		name         string
		base         int
		active       int
		snap         monitor.Snapshot
		wantAllow    bool
		wantMax      int
		wantQuality  float64
		wantReason   Reason
	}{
		{
			name:        "idle host under light load",
			base:        2,
			active:      0,
			snap:        monitor.Snapshot{LoadFactor: 0.3, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonNormal,
		},
		{
			name:        "at capacity",
			base:        2,
			active:      2,
			snap:        monitor.Snapshot{LoadFactor: 0.3, Trend: monitor.TrendStable},
			wantAllow:   false,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonNormal,
		},
		{
			name:        "battery caps to one job",
			base:        4,
			active:      0,
			snap:        monitor.Snapshot{OnBattery: true, LoadFactor: 0.2, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     1,
			wantQuality: 0.6,
			wantReason:  ReasonBattery,
		},
		{
			name:        "battery denies a second job",
			base:        4,
			active:      1,
			snap:        monitor.Snapshot{OnBattery: true, LoadFactor: 0.2, Trend: monitor.TrendStable},
			wantAllow:   false,
			wantMax:     1,
			wantQuality: 0.6,
			wantReason:  ReasonBattery,
		},
		{
			name:        "gpu at thermal limit sheds one slot",
			base:        3,
			active:      1,
			snap:        monitor.Snapshot{GPUTempC: f64(80), LoadFactor: 0.4, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 0.75,
			wantReason:  ReasonGPUThermal,
		},
		{
			name:        "thermal shedding never drops below one",
			base:        1,
			active:      0,
			snap:        monitor.Snapshot{GPUTempC: f64(91), LoadFactor: 0.4, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     1,
			wantQuality: 0.75,
			wantReason:  ReasonGPUThermal,
		},
		{
			name:        "gpu just under the limit",
			base:        2,
			active:      0,
			snap:        monitor.Snapshot{GPUTempC: f64(79.9), LoadFactor: 0.4, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonNormal,
		},
		{
			name:        "critical load denies new work",
			base:        2,
			active:      1,
			snap:        monitor.Snapshot{LoadFactor: 0.9, Trend: monitor.TrendStable},
			wantAllow:   false,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonLoadCritical,
		},
		{
			name:        "critical load still admits on an idle host",
			base:        2,
			active:      0,
			snap:        monitor.Snapshot{LoadFactor: 0.9, Trend: monitor.TrendStable},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonLoadCritical,
		},
		{
			name:        "rising load freezes at the active count",
			base:        3,
			active:      1,
			snap:        monitor.Snapshot{LoadFactor: 0.72, Trend: monitor.TrendRising},
			wantAllow:   false,
			wantMax:     1,
			wantQuality: 1.0,
			wantReason:  ReasonLoadRising,
		},
		{
			name:        "rising load on an idle host freezes at zero",
			base:        3,
			active:      0,
			snap:        monitor.Snapshot{LoadFactor: 0.75, Trend: monitor.TrendRising},
			wantAllow:   false,
			wantMax:     0,
			wantQuality: 1.0,
			wantReason:  ReasonLoadRising,
		},
		{
			name:        "rising trend below the threshold is normal",
			base:        2,
			active:      1,
			snap:        monitor.Snapshot{LoadFactor: 0.5, Trend: monitor.TrendRising},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonNormal,
		},
		{
			name:        "elevated but falling load is normal",
			base:        2,
			active:      1,
			snap:        monitor.Snapshot{LoadFactor: 0.8, Trend: monitor.TrendFalling},
			wantAllow:   true,
			wantMax:     2,
			wantQuality: 1.0,
			wantReason:  ReasonNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newController(t, tt.base, 0, tt.snap)
			got := ctrl.Decide(tt.active)
			assert.Equal(t, tt.wantAllow, got.Allow)
			assert.Equal(t, tt.wantMax, got.EffectiveMaxJobs)
			assert.InDelta(t, tt.wantQuality, got.QualityFactor, 1e-9)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestDecideCombinedRules(t *testing.T) {
	t.Run("battery plus thermal keeps the battery reason", func(t *testing.T) {
		snap := monitor.Snapshot{
			OnBattery:  true,
			GPUTempC:   f64(85),
			LoadFactor: 0.4,
			Trend:      monitor.TrendStable,
		}
		got := newController(t, 4, 0, snap).Decide(0)

		assert.True(t, got.Allow)
		assert.Equal(t, 1, got.EffectiveMaxJobs)
		assert.InDelta(t, 0.6, got.QualityFactor, 1e-9)
		assert.Equal(t, ReasonBattery, got.Reason)
	})

	t.Run("critical plus rising denies with the critical reason", func(t *testing.T) {
		snap := monitor.Snapshot{
			LoadFactor: 0.9,
			Trend:      monitor.TrendRising,
		}
		got := newController(t, 3, 0, snap).Decide(1)

		assert.False(t, got.Allow)
		assert.Equal(t, 1, got.EffectiveMaxJobs)
		assert.Equal(t, ReasonLoadCritical, got.Reason)
	})

	t.Run("thermal plus rising freeze tightens past the shed slot", func(t *testing.T) {
		snap := monitor.Snapshot{
			GPUTempC:   f64(82),
			LoadFactor: 0.75,
			Trend:      monitor.TrendRising,
		}
		got := newController(t, 4, 0, snap).Decide(2)

		assert.False(t, got.Allow)
		assert.Equal(t, 2, got.EffectiveMaxJobs)
		assert.InDelta(t, 0.75, got.QualityFactor, 1e-9)
		assert.Equal(t, ReasonGPUThermal, got.Reason)
	})
}

func TestDecideOverride(t *testing.T) {
	snap := monitor.Snapshot{LoadFactor: 0.2, Trend: monitor.TrendStable}

	got := newController(t, 2, 5, snap).Decide(3)
	assert.True(t, got.Allow)
	assert.Equal(t, 5, got.EffectiveMaxJobs)

	got = newController(t, 2, 5, snap).Decide(5)
	assert.False(t, got.Allow)
}
