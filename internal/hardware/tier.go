// Package hardware profiles the host at startup: which encoder families
// actually work, how much VRAM is behind them, and what concurrency and
// quality ceiling the box can sustain.
package hardware

import "github.com/vodarr/vodarr/internal/models"

// Tier is the capability class assigned to the host.
type Tier string

const (
	// TierUltra is a hardware encoder with 8 GiB+ VRAM.
	TierUltra Tier = "ultra"
	// TierHigh is a hardware encoder with 6 GiB+ VRAM.
	TierHigh Tier = "high"
	// TierMedium is a hardware encoder with 4 GiB+ VRAM.
	TierMedium Tier = "medium"
	// TierLow is a working hardware encoder with less or unknown VRAM,
	// which covers iGPUs and render nodes that report no memory size.
	TierLow Tier = "low"
	// TierMinimal is software encoding only.
	TierMinimal Tier = "minimal"
)

// TierSpec is the operating envelope granted to a tier.
type TierSpec struct {
	MaxResolution models.Resolution `json:"max_resolution"`
	MaxBitrate    int64             `json:"max_bitrate"`
	MaxJobs       int               `json:"max_jobs"`
}

var tierSpecs = map[Tier]TierSpec{
	TierUltra:   {MaxResolution: models.Resolution2160p, MaxBitrate: 25_000_000, MaxJobs: 4},
	TierHigh:    {MaxResolution: models.Resolution1440p, MaxBitrate: 15_000_000, MaxJobs: 3},
	TierMedium:  {MaxResolution: models.Resolution1080p, MaxBitrate: 8_000_000, MaxJobs: 2},
	TierLow:     {MaxResolution: models.Resolution720p, MaxBitrate: 4_000_000, MaxJobs: 1},
	TierMinimal: {MaxResolution: models.Resolution480p, MaxBitrate: 2_000_000, MaxJobs: 1},
}

// Spec returns the envelope for the tier.
func (t Tier) Spec() TierSpec {
	if spec, ok := tierSpecs[t]; ok {
		return spec
	}
	return tierSpecs[TierMinimal]
}

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	_, ok := tierSpecs[t]
	return ok
}

// classifyTier maps probe results and VRAM to a tier. VRAM is only
// known on NVIDIA hosts; other hardware families land on low.
func classifyTier(hwAvailable bool, vramMB uint64) Tier {
	if !hwAvailable {
		return TierMinimal
	}
	switch {
	case vramMB >= 8192:
		return TierUltra
	case vramMB >= 6144:
		return TierHigh
	case vramMB >= 4096:
		return TierMedium
	default:
		return TierLow
	}
}
