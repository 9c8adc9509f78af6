package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VideoCodec identifies a target video codec family.
type VideoCodec string

const (
	// VideoCodecH264 is H.264/AVC.
	VideoCodecH264 VideoCodec = "h264"
	// VideoCodecH265 is H.265/HEVC.
	VideoCodecH265 VideoCodec = "h265"
	// VideoCodecVP9 is VP9.
	VideoCodecVP9 VideoCodec = "vp9"
	// VideoCodecAV1 is AV1.
	VideoCodecAV1 VideoCodec = "av1"
)

// Valid reports whether the codec is a known target.
func (c VideoCodec) Valid() bool {
	switch c {
	case VideoCodecH264, VideoCodecH265, VideoCodecVP9, VideoCodecAV1:
		return true
	}
	return false
}

// EightBit reports whether the codec target is encoded 8-bit here, which is
// what makes HDR sources candidates for tone mapping.
func (c VideoCodec) EightBit() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// AudioCodec identifies a target audio codec.
type AudioCodec string

const (
	// AudioCodecAAC is AAC.
	AudioCodecAAC AudioCodec = "aac"
	// AudioCodecOpus is Opus.
	AudioCodecOpus AudioCodec = "opus"
	// AudioCodecMP3 is MP3.
	AudioCodecMP3 AudioCodec = "mp3"
	// AudioCodecFLAC is FLAC.
	AudioCodecFLAC AudioCodec = "flac"
	// AudioCodecAC3 is Dolby Digital.
	AudioCodecAC3 AudioCodec = "ac3"
)

// Valid reports whether the codec is a known target.
func (c AudioCodec) Valid() bool {
	switch c {
	case AudioCodecAAC, AudioCodecOpus, AudioCodecMP3, AudioCodecFLAC, AudioCodecAC3:
		return true
	}
	return false
}

// Container identifies a batch output container.
type Container string

const (
	// ContainerMP4 is MP4.
	ContainerMP4 Container = "mp4"
	// ContainerMKV is Matroska.
	ContainerMKV Container = "mkv"
	// ContainerWebM is WebM.
	ContainerWebM Container = "webm"
)

// Valid reports whether the container is a known target.
func (c Container) Valid() bool {
	switch c {
	case ContainerMP4, ContainerMKV, ContainerWebM:
		return true
	}
	return false
}

// Resolution is a named output height, or "auto" to derive one from the
// source and the hardware tier.
type Resolution string

const (
	// ResolutionAuto derives the height from source and tier.
	ResolutionAuto Resolution = "auto"
	// Resolution2160p is 4K UHD.
	Resolution2160p Resolution = "2160p"
	// Resolution1440p is QHD.
	Resolution1440p Resolution = "1440p"
	// Resolution1080p is Full HD.
	Resolution1080p Resolution = "1080p"
	// Resolution720p is HD.
	Resolution720p Resolution = "720p"
	// Resolution480p is SD.
	Resolution480p Resolution = "480p"
	// Resolution360p is low SD.
	Resolution360p Resolution = "360p"
)

var resolutionHeights = map[Resolution]int{
	Resolution2160p: 2160,
	Resolution1440p: 1440,
	Resolution1080p: 1080,
	Resolution720p:  720,
	Resolution480p:  480,
	Resolution360p:  360,
}

// Valid reports whether the resolution is a known name.
func (r Resolution) Valid() bool {
	if r == ResolutionAuto {
		return true
	}
	_, ok := resolutionHeights[r]
	return ok
}

// Height returns the pixel height for a named resolution, or 0 for auto.
func (r Resolution) Height() int {
	return resolutionHeights[r]
}

// ResolutionForHeight returns the largest named resolution whose height does
// not exceed h. Heights below 360 fall through to 360p.
func ResolutionForHeight(h int) Resolution {
	for _, r := range []Resolution{
		Resolution2160p, Resolution1440p, Resolution1080p,
		Resolution720p, Resolution480p,
	} {
		if h >= r.Height() {
			return r
		}
	}
	return Resolution360p
}

var bitratePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([kKmM])?$`)

// ParseBitrate converts a bitrate string such as "8M" or "192k" (or a raw
// bits-per-second count) to bits per second.
func ParseBitrate(s string) (int64, error) {
	m := bitratePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bitrate %q: %w", s, err)
	}
	switch m[2] {
	case "k", "K":
		value *= 1_000
	case "m", "M":
		value *= 1_000_000
	}
	if value <= 0 {
		return 0, fmt.Errorf("bitrate %q must be positive", s)
	}
	return int64(value), nil
}

// FormatBitrate renders bits per second in ffmpeg's compact form.
func FormatBitrate(bps int64) string {
	switch {
	case bps >= 1_000_000 && bps%1_000_000 == 0:
		return fmt.Sprintf("%dM", bps/1_000_000)
	case bps >= 1_000 && bps%1_000 == 0:
		return fmt.Sprintf("%dk", bps/1_000)
	default:
		return strconv.FormatInt(bps, 10)
	}
}
