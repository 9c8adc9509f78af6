// Package admission decides, per dispatch attempt, how many jobs the
// host should run right now and how aggressively to spend quality. It
// is a pure function of the hardware profile and the latest load
// snapshot, so every decision is reproducible from its logged inputs.
package admission

import (
	"log/slog"
	"math"

	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/monitor"
)

// Reason labels which rule shaped a decision.
type Reason string

const (
	// ReasonNormal means no constraint applied.
	ReasonNormal Reason = "normal"
	// ReasonBattery means the host is discharging.
	ReasonBattery Reason = "battery"
	// ReasonGPUThermal means the GPU is at or above the thermal limit.
	ReasonGPUThermal Reason = "gpu_thermal"
	// ReasonLoadCritical means load is too high to start anything new.
	ReasonLoadCritical Reason = "load_critical"
	// ReasonLoadRising means climbing load froze admission at the
	// current job count.
	ReasonLoadRising Reason = "load_rising"
)

const (
	// thermalLimitC is the GPU temperature that sheds one job slot.
	thermalLimitC = 80.0
	// loadCritical denies new work outright (except on an idle host).
	loadCritical = 0.85
	// loadElevated plus a rising trend freezes admission.
	loadElevated = 0.70
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allow reports whether one more job may start now.
	Allow bool `json:"allow"`
	// EffectiveMaxJobs is the ceiling after all active rules.
	EffectiveMaxJobs int `json:"effective_max_jobs"`
	// QualityFactor in (0,1] scales tier resolution/bitrate caps when
	// resolving auto output parameters.
	QualityFactor float64 `json:"quality_factor"`
	// Reason names the first rule that matched.
	Reason Reason `json:"reason"`
}

// Snapshotter provides the latest load sample.
type Snapshotter interface {
	Snapshot() monitor.Snapshot
}

// Controller evaluates the admission rules.
type Controller struct {
	profile  *hardware.Profile
	monitor  Snapshotter
	override int
	logger   *slog.Logger
}

// New creates a controller. override is the configured job ceiling,
// zero meaning the tier default.
func New(profile *hardware.Profile, snap Snapshotter, override int, logger *slog.Logger) *Controller {
	return &Controller{
		profile:  profile,
		monitor:  snap,
		override: override,
		logger:   logger.With(slog.String("component", "admission")),
	}
}

// Decide evaluates the rules against the current load for the given
// number of active jobs. Rules are ordered; every matching rule may
// tighten the outcome, and the first match names the reason.
func (c *Controller) Decide(active int) Decision {
	snap := c.monitor.Snapshot()
	base := c.profile.MaxJobsWithOverride(c.override)

	d := Decision{
		Allow:            true,
		EffectiveMaxJobs: base,
		QualityFactor:    1.0,
		Reason:           ReasonNormal,
	}
	matched := false

	if snap.OnBattery {
		d.EffectiveMaxJobs = min(base, 1)
		d.QualityFactor = math.Min(d.QualityFactor, 0.6)
		d.Reason = ReasonBattery
		matched = true
	}

	if snap.GPUTempC != nil && *snap.GPUTempC >= thermalLimitC {
		d.EffectiveMaxJobs = max(d.EffectiveMaxJobs-1, 1)
		d.QualityFactor = math.Min(d.QualityFactor, 0.75)
		if !matched {
			d.Reason = ReasonGPUThermal
			matched = true
		}
	}

	if snap.LoadFactor >= loadCritical {
		// An idle host still accepts a single job: something external
		// is loading the box, and refusing all work forever would
		// starve the queue.
		if active > 0 {
			d.Allow = false
		}
		if !matched {
			d.Reason = ReasonLoadCritical
			matched = true
		}
	}

	if snap.Trend == monitor.TrendRising && snap.LoadFactor >= loadElevated {
		d.EffectiveMaxJobs = min(d.EffectiveMaxJobs, active)
		if !matched {
			d.Reason = ReasonLoadRising
			matched = true
		}
	}

	d.Allow = d.Allow && active < d.EffectiveMaxJobs

	c.logger.Debug("admission decision",
		slog.Bool("allow", d.Allow),
		slog.Int("active", active),
		slog.Int("effective_max_jobs", d.EffectiveMaxJobs),
		slog.Float64("quality_factor", d.QualityFactor),
		slog.String("reason", string(d.Reason)),
		slog.Float64("load_factor", snap.LoadFactor),
		slog.String("trend", string(snap.Trend)),
		slog.Bool("on_battery", snap.OnBattery))

	return d
}
