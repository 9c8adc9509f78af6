package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
)

func TestParseGPULine(t *testing.T) {
	line := "0, NVIDIA GeForce RTX 3070, 550.54.14, 37, 1024, 8192, 62, 12"

	stats, err := parseGPULine(line)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Index)
	assert.Equal(t, "NVIDIA GeForce RTX 3070", stats.Name)
	assert.Equal(t, "550.54.14", stats.DriverVersion)
	assert.InDelta(t, 37.0, stats.UtilizationPercent, 0.001)
	assert.Equal(t, uint64(1024), stats.MemoryUsedMB)
	assert.Equal(t, uint64(8192), stats.MemoryTotalMB)
	assert.Equal(t, 62, stats.TemperatureC)
	assert.InDelta(t, 12.0, stats.EncoderUtilization, 0.001)
}

func TestParseGPULineMalformed(t *testing.T) {
	_, err := parseGPULine("not a csv line")
	require.Error(t, err)

	_, err = parseGPULine("0, name, driver")
	require.Error(t, err)
}

func TestProfileHelpers(t *testing.T) {
	p := &Profile{
		Tier:     TierHigh,
		Families: []models.HWAccel{models.HWAccelNVENC, models.HWAccelQSV},
		Probes: []ffmpeg.EncoderProbe{
			{Family: models.HWAccelNVENC, Encoder: "h264_nvenc", Available: true},
			{Family: models.HWAccelQSV, Encoder: "h264_qsv", Available: true},
			{Family: models.HWAccelVAAPI, Encoder: "h264_vaapi", Available: false},
		},
		MaxJobs: 3,
	}

	assert.True(t, p.HasHardware())
	assert.Equal(t, models.HWAccelNVENC, p.BestFamily())
	assert.True(t, p.FamilyAvailable(models.HWAccelQSV))
	assert.False(t, p.FamilyAvailable(models.HWAccelVAAPI))
	assert.True(t, p.FamilyAvailable(models.HWAccelSoftware))
}

func TestProfileSoftwareOnly(t *testing.T) {
	p := &Profile{Tier: TierMinimal}

	assert.False(t, p.HasHardware())
	assert.Equal(t, models.HWAccelSoftware, p.BestFamily())
	assert.True(t, p.FamilyAvailable(models.HWAccelSoftware))
	assert.False(t, p.FamilyAvailable(models.HWAccelNVENC))
}

func TestMaxJobsWithOverride(t *testing.T) {
	p := &Profile{MaxJobs: 2}

	assert.Equal(t, 2, p.MaxJobsWithOverride(0), "zero means tier default")
	assert.Equal(t, 6, p.MaxJobsWithOverride(6), "explicit config wins")
	assert.Equal(t, 2, p.MaxJobsWithOverride(-1), "negative treated as unset")
}
