package hardware

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
)

// Profile is the startup capability snapshot the scheduler and planner
// work from. It stays fixed until Refresh; battery and load are sampled
// separately because they move.
type Profile struct {
	Tier          Tier                  `json:"tier"`
	MaxResolution models.Resolution     `json:"max_resolution"`
	MaxBitrate    int64                 `json:"max_bitrate"`
	MaxJobs       int                   `json:"max_jobs"`
	Families      []models.HWAccel      `json:"families,omitempty"`
	Probes        []ffmpeg.EncoderProbe `json:"probes,omitempty"`
	GPUName       string                `json:"gpu_name,omitempty"`
	GPUDriver     string                `json:"gpu_driver,omitempty"`
	VRAMMb        uint64                `json:"vram_mb,omitempty"`
	CPUCores      int                   `json:"cpu_cores"`
	OS            string                `json:"os"`
	Arch          string                `json:"arch"`
	IsLaptop      bool                  `json:"is_laptop"`
	FFmpegPath    string                `json:"ffmpeg_path"`
	FFmpegVersion string                `json:"ffmpeg_version"`
	Encoders      []string              `json:"encoders,omitempty"`
	DetectedAt    time.Time             `json:"detected_at"`
}

// HasHardware reports whether at least one hardware encoder family is
// usable.
func (p *Profile) HasHardware() bool {
	return len(p.Families) > 0
}

// BestFamily returns the preferred usable family, or software.
func (p *Profile) BestFamily() models.HWAccel {
	if len(p.Families) > 0 {
		return p.Families[0]
	}
	return models.HWAccelSoftware
}

// FamilyAvailable reports whether the given family passed its probe.
func (p *Profile) FamilyAvailable(family models.HWAccel) bool {
	if family == models.HWAccelSoftware {
		return true
	}
	for _, f := range p.Families {
		if f == family {
			return true
		}
	}
	return false
}

// Profiler detects the host profile once and serves it from cache.
type Profiler struct {
	detector *ffmpeg.BinaryDetector
	logger   *slog.Logger

	mu      sync.RWMutex
	profile *Profile
}

// NewProfiler creates a profiler on top of the binary detector.
func NewProfiler(detector *ffmpeg.BinaryDetector, logger *slog.Logger) *Profiler {
	return &Profiler{
		detector: detector,
		logger:   logger.With(slog.String("component", "hardware-profiler")),
	}
}

// Profile returns the cached profile, detecting on first use. A missing
// ffmpeg binary surfaces as ffmpeg.ErrBinaryNotFound, which the server
// treats as fatal at startup.
func (p *Profiler) Profile(ctx context.Context) (*Profile, error) {
	p.mu.RLock()
	if p.profile != nil {
		profile := p.profile
		p.mu.RUnlock()
		return profile, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

// Refresh forces a full re-detection.
func (p *Profiler) Refresh(ctx context.Context) (*Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, err := p.detect(ctx)
	if err != nil {
		return nil, err
	}

	p.profile = profile
	p.logger.Info("hardware profile detected",
		slog.String("tier", string(profile.Tier)),
		slog.String("gpu", profile.GPUName),
		slog.Uint64("vram_mb", profile.VRAMMb),
		slog.Int("max_jobs", profile.MaxJobs),
		slog.String("max_resolution", string(profile.MaxResolution)),
		slog.Any("families", profile.Families),
		slog.String("ffmpeg", profile.FFmpegVersion))

	return profile, nil
}

func (p *Profiler) detect(ctx context.Context) (*Profile, error) {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}

	prober := ffmpeg.NewHWProber(info.FFmpegPath, p.logger)
	probes := prober.Probe(ctx)
	families := ffmpeg.AvailableFamilies(probes)

	profile := &Profile{
		Families:      families,
		Probes:        probes,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		IsLaptop:      PowerSource(ctx).IsLaptop,
		FFmpegPath:    info.FFmpegPath,
		FFmpegVersion: info.Version,
		Encoders:      info.Encoders,
		DetectedAt:    time.Now().UTC(),
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		profile.CPUCores = cores
	}

	// VRAM sizing only exists on the NVIDIA path. Other families tier
	// as low, which is the intended floor for iGPU-class hardware.
	if gpu, err := QueryGPU(ctx); err == nil {
		profile.GPUName = gpu.Name
		profile.GPUDriver = gpu.DriverVersion
		profile.VRAMMb = gpu.MemoryTotalMB
	}

	profile.Tier = classifyTier(len(families) > 0, profile.VRAMMb)
	spec := profile.Tier.Spec()
	profile.MaxResolution = spec.MaxResolution
	profile.MaxBitrate = spec.MaxBitrate
	profile.MaxJobs = spec.MaxJobs

	return profile, nil
}

// MaxJobsWithOverride resolves the concurrency ceiling: an explicit
// configuration value wins, zero means tier default.
func (p *Profile) MaxJobsWithOverride(override int) int {
	if override > 0 {
		return override
	}
	return p.MaxJobs
}
