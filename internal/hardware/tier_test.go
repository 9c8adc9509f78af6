package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vodarr/vodarr/internal/models"
)

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		name   string
		hw     bool
		vramMB uint64
		want   Tier
	}{
		{"no hardware at all", false, 0, TierMinimal},
		{"no hardware ignores vram", false, 16384, TierMinimal},
		{"rtx class 8gb", true, 8192, TierUltra},
		{"12gb card", true, 12288, TierUltra},
		{"6gb card", true, 6144, TierHigh},
		{"7gb rounds down to high", true, 7168, TierHigh},
		{"4gb card", true, 4096, TierMedium},
		{"2gb card", true, 2048, TierLow},
		{"igpu without vram telemetry", true, 0, TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTier(tt.hw, tt.vramMB))
		})
	}
}

func TestTierSpec(t *testing.T) {
	tests := []struct {
		tier    Tier
		res     models.Resolution
		bitrate int64
		jobs    int
	}{
		{TierUltra, models.Resolution2160p, 25_000_000, 4},
		{TierHigh, models.Resolution1440p, 15_000_000, 3},
		{TierMedium, models.Resolution1080p, 8_000_000, 2},
		{TierLow, models.Resolution720p, 4_000_000, 1},
		{TierMinimal, models.Resolution480p, 2_000_000, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			spec := tt.tier.Spec()
			assert.Equal(t, tt.res, spec.MaxResolution)
			assert.Equal(t, tt.bitrate, spec.MaxBitrate)
			assert.Equal(t, tt.jobs, spec.MaxJobs)
		})
	}
}

func TestTierSpecUnknownFallsToMinimal(t *testing.T) {
	spec := Tier("bogus").Spec()
	assert.Equal(t, models.Resolution480p, spec.MaxResolution)
	assert.False(t, Tier("bogus").Valid())
	assert.True(t, TierUltra.Valid())
}
