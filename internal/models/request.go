package models

import (
	"net/url"
	"path/filepath"
	"strings"
)

// TranscodeMode selects the execution shape of a job.
type TranscodeMode string

const (
	// ModeStream produces a single-rendition HLS stream.
	ModeStream TranscodeMode = "stream"
	// ModeABR produces a multi-rendition HLS ladder.
	ModeABR TranscodeMode = "abr"
	// ModeBatch produces one output file.
	ModeBatch TranscodeMode = "batch"
)

// Valid reports whether the mode is known.
func (m TranscodeMode) Valid() bool {
	switch m {
	case ModeStream, ModeABR, ModeBatch:
		return true
	}
	return false
}

// HLS reports whether the mode produces playlists and segments.
func (m TranscodeMode) HLS() bool {
	return m == ModeStream || m == ModeABR
}

// HWAccel identifies a hardware encoder family, or the software and auto
// pseudo-families.
type HWAccel string

const (
	// HWAccelAuto picks the best available family at plan time.
	HWAccelAuto HWAccel = "auto"
	// HWAccelNVENC is NVIDIA NVENC.
	HWAccelNVENC HWAccel = "nvenc"
	// HWAccelQSV is Intel Quick Sync Video.
	HWAccelQSV HWAccel = "qsv"
	// HWAccelVAAPI is VA-API.
	HWAccelVAAPI HWAccel = "vaapi"
	// HWAccelAMF is AMD AMF.
	HWAccelAMF HWAccel = "amf"
	// HWAccelVideoToolbox is Apple VideoToolbox.
	HWAccelVideoToolbox HWAccel = "videotoolbox"
	// HWAccelSoftware forces CPU encoding.
	HWAccelSoftware HWAccel = "software"
)

// Valid reports whether the value is a known family or pseudo-family.
func (h HWAccel) Valid() bool {
	switch h {
	case HWAccelAuto, HWAccelNVENC, HWAccelQSV, HWAccelVAAPI,
		HWAccelAMF, HWAccelVideoToolbox, HWAccelSoftware:
		return true
	}
	return false
}

// Hardware reports whether the value names a real hardware family.
func (h HWAccel) Hardware() bool {
	return h.Valid() && h != HWAccelAuto && h != HWAccelSoftware
}

// OutputConfig describes the requested output of a job.
type OutputConfig struct {
	// Resolution is the target height, or "auto".
	Resolution Resolution `json:"resolution,omitempty"`

	// VideoCodec is the target video codec.
	VideoCodec VideoCodec `json:"video_codec,omitempty"`

	// AudioCodec is the target audio codec.
	AudioCodec AudioCodec `json:"audio_codec,omitempty"`

	// Container is the batch output container. Ignored for HLS modes.
	Container Container `json:"container,omitempty"`

	// VideoBitrate overrides the derived video bitrate, e.g. "8M".
	VideoBitrate string `json:"video_bitrate,omitempty"`

	// AudioBitrate overrides the derived audio bitrate, e.g. "192k".
	AudioBitrate string `json:"audio_bitrate,omitempty"`

	// MaxAudioChannels caps the output channel count. 0 means the
	// default of 2 (stereo downmix).
	MaxAudioChannels int `json:"max_audio_channels,omitempty"`

	// TwoPass enables two-pass encoding for batch jobs.
	TwoPass bool `json:"two_pass,omitempty"`
}

// SubtitleTrack declares an external subtitle to fetch and expose.
type SubtitleTrack struct {
	// URL is where the WebVTT file is fetched from.
	URL string `json:"url"`

	// Language is the BCP-47 or ISO-639 language tag.
	Language string `json:"language"`

	// Title is the display name. Defaults to the language.
	Title string `json:"title,omitempty"`

	// Default marks the track preselected by players.
	Default bool `json:"default,omitempty"`
}

// TranscodeRequest is the immutable description of a submitted job.
type TranscodeRequest struct {
	// Source is an http(s) URL or an absolute local file path.
	Source string `json:"source"`

	// Mode selects stream, abr, or batch execution. Defaults to stream.
	Mode TranscodeMode `json:"mode,omitempty"`

	// Output describes the requested target.
	Output OutputConfig `json:"output,omitempty"`

	// HWAccel requests an encoder family. Defaults to auto.
	HWAccel HWAccel `json:"hw_accel,omitempty"`

	// StartTimeS seeks into the source before transcoding begins.
	StartTimeS float64 `json:"start_time_s,omitempty"`

	// Subtitles are external tracks fetched into the job workspace.
	Subtitles []SubtitleTrack `json:"subtitles,omitempty"`

	// CallbackURL receives a single best-effort POST of the job
	// snapshot when the job completes successfully.
	CallbackURL string `json:"callback_url,omitempty"`
}

// Normalize fills defaulted fields in place. Called once at submission,
// before Validate.
func (r *TranscodeRequest) Normalize() {
	if r.Mode == "" {
		r.Mode = ModeStream
	}
	if r.HWAccel == "" {
		r.HWAccel = HWAccelAuto
	}
	if r.Output.Resolution == "" {
		r.Output.Resolution = ResolutionAuto
	}
	if r.Output.VideoCodec == "" {
		r.Output.VideoCodec = VideoCodecH264
	}
	if r.Output.AudioCodec == "" {
		r.Output.AudioCodec = AudioCodecAAC
	}
	if r.Mode == ModeBatch && r.Output.Container == "" {
		r.Output.Container = ContainerMP4
	}
	if r.Output.MaxAudioChannels == 0 {
		r.Output.MaxAudioChannels = 2
	}
	for i := range r.Subtitles {
		if r.Subtitles[i].Title == "" {
			r.Subtitles[i].Title = r.Subtitles[i].Language
		}
	}
}

// Validate checks structural validity. Hardware availability for an
// explicit HWAccel is checked separately against the capability snapshot.
func (r *TranscodeRequest) Validate() error {
	if r.Source == "" {
		return ErrSourceRequired
	}
	if !validSource(r.Source) {
		return ErrValidation{Field: "source", Message: "must be an http(s) URL or an absolute file path"}
	}
	if !r.Mode.Valid() {
		return ErrValidation{Field: "mode", Message: "must be one of: stream, abr, batch"}
	}
	if !r.Output.Resolution.Valid() {
		return ErrValidation{Field: "output.resolution", Message: "unknown resolution"}
	}
	if !r.Output.VideoCodec.Valid() {
		return ErrValidation{Field: "output.video_codec", Message: "unknown video codec"}
	}
	if !r.Output.AudioCodec.Valid() {
		return ErrValidation{Field: "output.audio_codec", Message: "unknown audio codec"}
	}
	if r.Mode == ModeBatch && !r.Output.Container.Valid() {
		return ErrValidation{Field: "output.container", Message: "must be one of: mp4, mkv, webm"}
	}
	if r.Mode != ModeBatch && r.Output.Container != "" {
		return ErrValidation{Field: "output.container", Message: "container applies to batch mode only"}
	}
	if r.Output.VideoBitrate != "" {
		if _, err := ParseBitrate(r.Output.VideoBitrate); err != nil {
			return ErrValidation{Field: "output.video_bitrate", Message: err.Error()}
		}
	}
	if r.Output.AudioBitrate != "" {
		if _, err := ParseBitrate(r.Output.AudioBitrate); err != nil {
			return ErrValidation{Field: "output.audio_bitrate", Message: err.Error()}
		}
	}
	if r.Output.MaxAudioChannels < 0 {
		return ErrValidation{Field: "output.max_audio_channels", Message: "must be >= 0"}
	}
	if r.Output.TwoPass && r.Mode != ModeBatch {
		return ErrValidation{Field: "output.two_pass", Message: "two-pass applies to batch mode only"}
	}
	if !r.HWAccel.Valid() {
		return ErrValidation{Field: "hw_accel", Message: "unknown encoder family"}
	}
	if r.StartTimeS < 0 {
		return ErrValidation{Field: "start_time_s", Message: "must be >= 0"}
	}
	for _, sub := range r.Subtitles {
		if sub.URL == "" {
			return ErrValidation{Field: "subtitles", Message: "url is required"}
		}
		if !validHTTPURL(sub.URL) {
			return ErrValidation{Field: "subtitles", Message: "url must be http(s)"}
		}
		if sub.Language == "" {
			return ErrValidation{Field: "subtitles", Message: "language is required"}
		}
	}
	if r.CallbackURL != "" && !validHTTPURL(r.CallbackURL) {
		return ErrValidation{Field: "callback_url", Message: "must be http(s)"}
	}
	return nil
}

func validSource(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return validHTTPURL(s)
	}
	return filepath.IsAbs(s)
}

func validHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
