package ffmpeg

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func TestBinaryDetectorDetect(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "")

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.Version)
	assert.Greater(t, info.MajorVersion, 0)
	assert.NotEmpty(t, info.Encoders)
}

func TestBinaryDetectorCaching(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "").WithCacheTTL(1 * time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)

	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	// Second call must serve the cached pointer, not re-run detection.
	assert.Same(t, info1, info2)
}

func TestBinaryDetectorExplicitPathInvalid(t *testing.T) {
	ctx := context.Background()
	detector := NewBinaryDetector("/nonexistent/ffmpeg", "")

	_, err := detector.Detect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestBinaryInfoHasEncoder(t *testing.T) {
	info := &BinaryInfo{Encoders: []string{"libx264", "h264_nvenc", "aac"}}

	assert.True(t, info.HasEncoder("h264_nvenc"))
	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("hevc_qsv"))
}

func TestAvailableFamiliesOrdering(t *testing.T) {
	probes := []EncoderProbe{
		{Family: "vaapi", Encoder: "h264_vaapi", Available: true},
		{Family: "nvenc", Encoder: "h264_nvenc", Available: true},
		{Family: "qsv", Encoder: "h264_qsv", Available: false},
	}

	families := AvailableFamilies(probes)
	require.Len(t, families, 2)
	// NVENC outranks VAAPI regardless of probe order.
	assert.Equal(t, "nvenc", string(families[0]))
	assert.Equal(t, "vaapi", string(families[1]))
}

func TestAvailableFamiliesEmpty(t *testing.T) {
	assert.Empty(t, AvailableFamilies(nil))
	assert.Empty(t, AvailableFamilies([]EncoderProbe{
		{Family: "nvenc", Available: false},
	}))
}
