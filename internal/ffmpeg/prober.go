package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is the decoded ffprobe JSON document.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat holds container level fields.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream holds the per-stream fields the planner reads.
type ProbeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	CodecType      string            `json:"codec_type"`
	Profile        string            `json:"profile,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	PixFmt         string            `json:"pix_fmt,omitempty"`
	ColorSpace     string            `json:"color_space,omitempty"`
	ColorTransfer  string            `json:"color_transfer,omitempty"`
	ColorPrimaries string            `json:"color_primaries,omitempty"`
	SampleRate     string            `json:"sample_rate,omitempty"`
	Channels       int               `json:"channels,omitempty"`
	ChannelLayout  string            `json:"channel_layout,omitempty"`
	RFrameRate     string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string            `json:"avg_frame_rate,omitempty"`
	Duration       string            `json:"duration,omitempty"`
	BitRate        string            `json:"bit_rate,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (r *ProbeResult) AudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// DurationSeconds returns the container duration, 0 when unknown or live.
func (r *ProbeResult) DurationSeconds() float64 {
	if r.Format.Duration == "" {
		return 0
	}
	dur, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}

// Framerate parses the stream frame rate, preferring the average rate.
func (s *ProbeStream) Framerate() float64 {
	if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
		return fr
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate parses "30000/1001" or "25/1" style rationals.
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// SourceInfo is the planner's view of an input: just enough to pick a
// ladder, an encoder, and the filter chain.
type SourceInfo struct {
	VideoCodec     string  `json:"video_codec,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
	PixFmt         string  `json:"pix_fmt,omitempty"`
	ColorSpace     string  `json:"color_space,omitempty"`
	ColorTransfer  string  `json:"color_transfer,omitempty"`
	ColorPrimaries string  `json:"color_primaries,omitempty"`
	VideoBitrate   int64   `json:"video_bitrate,omitempty"`

	AudioCodec    string `json:"audio_codec,omitempty"`
	AudioChannels int    `json:"audio_channels,omitempty"`

	DurationS float64 `json:"duration_s,omitempty"`
	Live      bool    `json:"live"`
}

// BitDepth infers the sample bit depth from the pixel format name.
func (s *SourceInfo) BitDepth() int {
	switch {
	case strings.Contains(s.PixFmt, "p010"),
		strings.Contains(s.PixFmt, "10le"),
		strings.Contains(s.PixFmt, "10be"):
		return 10
	case strings.Contains(s.PixFmt, "12le"), strings.Contains(s.PixFmt, "12be"):
		return 12
	case strings.Contains(s.PixFmt, "16le"), strings.Contains(s.PixFmt, "16be"):
		return 16
	default:
		return 8
	}
}

// IsHDR reports whether the source carries HDR signalling: a PQ or HLG
// transfer function, or a 10-bit-plus stream in BT.2020.
func (s *SourceInfo) IsHDR() bool {
	switch s.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return s.BitDepth() >= 10 && strings.HasPrefix(s.ColorPrimaries, "bt2020")
}

// HasVideo reports whether a video stream was found.
func (s *SourceInfo) HasVideo() bool {
	return s.VideoCodec != ""
}

// HasAudio reports whether an audio stream was found.
func (s *SourceInfo) HasAudio() bool {
	return s.AudioCodec != ""
}

// Prober runs ffprobe against transcode sources.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe inspects a source and returns the raw ffprobe document.
func (p *Prober) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe is not available")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	args = append(args, url)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// ProbeSource inspects a source and returns the planner summary.
func (p *Prober) ProbeSource(ctx context.Context, url string) (*SourceInfo, error) {
	result, err := p.Probe(ctx, url)
	if err != nil {
		return nil, err
	}
	return Summarize(result), nil
}

// Summarize reduces an ffprobe document to the fields planning needs.
func Summarize(result *ProbeResult) *SourceInfo {
	info := &SourceInfo{
		DurationS: result.DurationSeconds(),
	}

	// A missing duration on a demuxable container usually means a live
	// source; mpegts and hls inputs are treated as live regardless.
	info.Live = info.DurationS == 0 ||
		strings.Contains(result.Format.FormatName, "hls") ||
		strings.Contains(result.Format.FormatName, "mpegts")

	if v := result.VideoStream(); v != nil {
		info.VideoCodec = v.CodecName
		info.Width = v.Width
		info.Height = v.Height
		info.FrameRate = v.Framerate()
		info.PixFmt = v.PixFmt
		info.ColorSpace = v.ColorSpace
		info.ColorTransfer = v.ColorTransfer
		info.ColorPrimaries = v.ColorPrimaries
		if v.BitRate != "" {
			if br, err := strconv.ParseInt(v.BitRate, 10, 64); err == nil {
				info.VideoBitrate = br
			}
		}
	}

	if a := result.AudioStream(); a != nil {
		info.AudioCodec = a.CodecName
		info.AudioChannels = a.Channels
	}

	return info
}
