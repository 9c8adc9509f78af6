package ffmpeg

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdrProbeJSON = `{
	"format": {
		"filename": "movie.mp4",
		"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
		"duration": "5400.123000",
		"size": "4294967296",
		"bit_rate": "6363000"
	},
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"codec_type": "video",
			"profile": "High",
			"width": 1920,
			"height": 1080,
			"pix_fmt": "yuv420p",
			"color_space": "bt709",
			"color_transfer": "bt709",
			"color_primaries": "bt709",
			"r_frame_rate": "24000/1001",
			"avg_frame_rate": "24000/1001",
			"bit_rate": "5800000"
		},
		{
			"index": 1,
			"codec_name": "eac3",
			"codec_type": "audio",
			"sample_rate": "48000",
			"channels": 6,
			"channel_layout": "5.1(side)"
		}
	]
}`

const hdrProbeJSON = `{
	"format": {
		"format_name": "matroska,webm",
		"duration": "7200.000000"
	},
	"streams": [
		{
			"index": 0,
			"codec_name": "hevc",
			"codec_type": "video",
			"width": 3840,
			"height": 2160,
			"pix_fmt": "yuv420p10le",
			"color_space": "bt2020nc",
			"color_transfer": "smpte2084",
			"color_primaries": "bt2020",
			"avg_frame_rate": "24/1"
		}
	]
}`

func TestSummarizeSDR(t *testing.T) {
	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(sdrProbeJSON), &result))

	info := Summarize(&result)

	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 23.976, info.FrameRate, 0.001)
	assert.Equal(t, int64(5800000), info.VideoBitrate)
	assert.Equal(t, "eac3", info.AudioCodec)
	assert.Equal(t, 6, info.AudioChannels)
	assert.InDelta(t, 5400.123, info.DurationS, 0.001)
	assert.False(t, info.Live)
	assert.Equal(t, 8, info.BitDepth())
	assert.False(t, info.IsHDR())
	assert.True(t, info.HasVideo())
	assert.True(t, info.HasAudio())
}

func TestSummarizeHDR(t *testing.T) {
	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(hdrProbeJSON), &result))

	info := Summarize(&result)

	assert.Equal(t, "hevc", info.VideoCodec)
	assert.Equal(t, 2160, info.Height)
	assert.Equal(t, 10, info.BitDepth())
	assert.True(t, info.IsHDR())
	assert.False(t, info.HasAudio())
}

func TestIsHDRVariants(t *testing.T) {
	tests := []struct {
		name string
		info SourceInfo
		want bool
	}{
		{"pq transfer", SourceInfo{ColorTransfer: "smpte2084", PixFmt: "yuv420p10le"}, true},
		{"hlg transfer", SourceInfo{ColorTransfer: "arib-std-b67", PixFmt: "yuv420p"}, true},
		{"10bit bt2020 without transfer tag", SourceInfo{PixFmt: "yuv420p10le", ColorPrimaries: "bt2020"}, true},
		{"10bit bt709 is not hdr", SourceInfo{PixFmt: "yuv420p10le", ColorPrimaries: "bt709"}, false},
		{"8bit bt2020 is not hdr", SourceInfo{PixFmt: "yuv420p", ColorPrimaries: "bt2020"}, false},
		{"plain sdr", SourceInfo{PixFmt: "yuv420p", ColorTransfer: "bt709"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.IsHDR())
		})
	}
}

func TestBitDepth(t *testing.T) {
	tests := []struct {
		pixFmt string
		want   int
	}{
		{"yuv420p", 8},
		{"nv12", 8},
		{"yuv420p10le", 10},
		{"p010le", 10},
		{"yuv422p12le", 12},
		{"yuv444p16be", 16},
		{"", 8},
	}

	for _, tt := range tests {
		info := SourceInfo{PixFmt: tt.pixFmt}
		assert.Equal(t, tt.want, info.BitDepth(), "pix_fmt %q", tt.pixFmt)
	}
}

func TestSummarizeLiveDetection(t *testing.T) {
	tests := []struct {
		name       string
		formatName string
		duration   string
		want       bool
	}{
		{"vod mp4", "mov,mp4,m4a,3gp,3g2,mj2", "1200.0", false},
		{"hls input", "hls", "0", true},
		{"mpegts input", "mpegts", "1200.0", true},
		{"no duration", "flv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &ProbeResult{Format: ProbeFormat{FormatName: tt.formatName, Duration: tt.duration}}
			assert.Equal(t, tt.want, Summarize(result).Live)
		})
	}
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"24000/1001", 23.976},
		{"25/1", 25},
		{"30", 30},
		{"0/0", 0},
		{"", 0},
		{"bogus", 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFramerate(tt.in), 0.001, "input %q", tt.in)
	}
}

func TestProberRequiresFFprobe(t *testing.T) {
	p := NewProber("")
	_, err := p.Probe(context.Background(), "https://example.com/video.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe")
}
