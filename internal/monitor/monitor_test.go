package monitor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testMonitor() *Monitor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func f64(v float64) *float64 { return &v }

func TestLeastSquaresSlope(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single sample", []float64{50}, 0},
		{"flat", []float64{40, 40, 40, 40}, 0},
		{"steady climb", []float64{10, 20, 30, 40}, 10},
		{"steady drop", []float64{40, 30, 20, 10}, -10},
		{"gentle climb", []float64{50, 50.2, 50.4, 50.6}, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, leastSquaresSlope(tt.values), 0.0001)
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Trend
	}{
		{"no history", nil, TrendStable},
		{"flat load", []float64{60, 60, 60}, TrendStable},
		{"sub-threshold drift", []float64{50, 50.3, 50.6, 50.9}, TrendStable},
		{"ramping up", []float64{20, 30, 40, 50}, TrendRising},
		{"cooling down", []float64{80, 70, 60, 50}, TrendFalling},
		{"exactly at threshold", []float64{50, 50.5, 51, 51.5}, TrendRising},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTrend(tt.values))
		})
	}
}

func TestMaxPresent(t *testing.T) {
	t.Run("all nil", func(t *testing.T) {
		_, ok := maxPresent(nil, nil)
		assert.False(t, ok)
	})

	t.Run("cpu only", func(t *testing.T) {
		v, ok := maxPresent(f64(42), nil)
		assert.True(t, ok)
		assert.Equal(t, 42.0, v)
	})

	t.Run("gpu dominates", func(t *testing.T) {
		v, ok := maxPresent(f64(30), f64(85))
		assert.True(t, ok)
		assert.Equal(t, 85.0, v)
	})

	t.Run("cpu dominates", func(t *testing.T) {
		v, ok := maxPresent(f64(91), f64(12))
		assert.True(t, ok)
		assert.Equal(t, 91.0, v)
	})
}

func TestSmoothSeedsAndConverges(t *testing.T) {
	m := testMonitor()

	snap := Snapshot{CPUPercent: f64(50)}
	m.smooth(&snap)
	// First sample seeds the EMA directly.
	assert.InDelta(t, 0.5, snap.LoadFactor, 0.0001)

	snap = Snapshot{CPUPercent: f64(100)}
	m.smooth(&snap)
	// 0.3*100 + 0.7*50 = 65
	assert.InDelta(t, 0.65, snap.LoadFactor, 0.0001)

	snap = Snapshot{CPUPercent: f64(100)}
	m.smooth(&snap)
	// 0.3*100 + 0.7*65 = 75.5
	assert.InDelta(t, 0.755, snap.LoadFactor, 0.0001)
}

func TestSmoothUsesMaxOfCPUAndGPU(t *testing.T) {
	m := testMonitor()

	snap := Snapshot{CPUPercent: f64(20), GPUPercent: f64(90)}
	m.smooth(&snap)
	assert.InDelta(t, 0.9, snap.LoadFactor, 0.0001)
}

func TestSmoothHoldsStateWhenCollectorsFail(t *testing.T) {
	m := testMonitor()

	snap := Snapshot{CPUPercent: f64(80)}
	m.smooth(&snap)
	held := snap.LoadFactor

	failed := Snapshot{}
	m.smooth(&failed)
	assert.Equal(t, held, failed.LoadFactor)
}

func TestSmoothWindowBounded(t *testing.T) {
	m := testMonitor()

	for i := 0; i < windowSamples*3; i++ {
		snap := Snapshot{CPUPercent: f64(50)}
		m.smooth(&snap)
	}
	assert.Len(t, m.history, windowSamples)
}

func TestSmoothDetectsRisingLoad(t *testing.T) {
	m := testMonitor()

	var last Snapshot
	for _, pct := range []float64{10, 30, 50, 70, 90, 95, 99} {
		last = Snapshot{CPUPercent: f64(pct)}
		m.smooth(&last)
	}

	assert.Equal(t, TrendRising, last.Trend)
	assert.Greater(t, last.LoadFactor, 0.5)
}

func TestSnapshotInitialState(t *testing.T) {
	m := testMonitor()
	snap := m.Snapshot()

	assert.Equal(t, TrendStable, snap.Trend)
	assert.True(t, snap.OnAC)
	assert.Zero(t, snap.LoadFactor)
}
