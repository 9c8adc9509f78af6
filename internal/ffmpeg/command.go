package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a fully built ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string
}

// String renders the command for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// CommandBuilder assembles ffmpeg argument lists with a fluent API. Args are
// staged in groups so the final order is always
// global, input options, -i, filters, output options, output.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	inputArgs     []string
	input         string
	videoFilters  []string
	filterComplex string
	outputArgs    []string
	output        string
	logLevel      string
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level. Defaults to error.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// ProgressPipe directs machine-readable progress to stdout and silences the
// interactive stats line.
func (b *CommandBuilder) ProgressPipe() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-progress", "pipe:1", "-nostats")
	return b
}

// Seek positions the input before decoding starts. Input-side seeking lands
// on the keyframe at or before the requested time, which is what segment
// alignment needs.
func (b *CommandBuilder) Seek(seconds float64) *CommandBuilder {
	if seconds > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", strconv.FormatFloat(seconds, 'f', 3, 64))
	}
	return b
}

// Reconnect enables automatic reconnection for network sources and
// bounds socket reads at 30 s (the -timeout unit is microseconds).
func (b *CommandBuilder) Reconnect() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-timeout", "30000000")
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Map selects a stream, e.g. "0:v:0" or "0:a:0?".
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", spec)
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets target, max, and buffer for the video stream. Buffer is
// twice the target, the usual CBR-ish shaping for segmented delivery.
func (b *CommandBuilder) VideoBitrate(bitrate string, maxrate string, bufsize string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	if maxrate != "" {
		b.outputArgs = append(b.outputArgs, "-maxrate", maxrate)
	}
	if bufsize != "" {
		b.outputArgs = append(b.outputArgs, "-bufsize", bufsize)
	}
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioChannels caps the output channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// Preset sets the encoder preset.
func (b *CommandBuilder) Preset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// GOP sets the keyframe interval in frames. Segmented output needs a
// keyframe at every segment boundary.
func (b *CommandBuilder) GOP(frames int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-g", strconv.Itoa(frames),
		"-keyint_min", strconv.Itoa(frames),
		"-sc_threshold", "0")
	return b
}

// VideoFilter appends to the -vf chain. Ignored when a filter complex is
// set.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	if filter != "" {
		b.videoFilters = append(b.videoFilters, filter)
	}
	return b
}

// FilterComplex sets a filter graph, replacing any -vf chain.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// HLS configures segmented VOD-style output: the playlist grows while the
// encode runs and is typed VOD so players treat it as seekable.
func (b *CommandBuilder) HLS(segmentSeconds int, segmentPattern string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+append_list",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
	)
	return b
}

// MasterPlaylist has the hls muxer emit a master playlist next to the
// variant playlists.
func (b *CommandBuilder) MasterPlaylist(name string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-master_pl_name", name)
	return b
}

// VarStreamMap groups encoder outputs into HLS variants, e.g.
// "v:0,a:0 v:1,a:1".
func (b *CommandBuilder) VarStreamMap(spec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-var_stream_map", spec)
	return b
}

// Format forces the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// FastStart relocates the moov atom for progressive MP4 playback.
func (b *CommandBuilder) FastStart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// TwoPass adds first or second pass flags sharing a log prefix. Pass one
// discards output, so callers must also set a null output.
func (b *CommandBuilder) TwoPass(pass int, logPrefix string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-pass", strconv.Itoa(pass),
		"-passlogfile", logPrefix)
	if pass == 1 {
		b.outputArgs = append(b.outputArgs, "-an")
	}
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final argument list.
func (b *CommandBuilder) Build() (*Command, error) {
	if b.input == "" {
		return nil, fmt.Errorf("ffmpeg command has no input")
	}
	if b.output == "" {
		return nil, fmt.Errorf("ffmpeg command has no output")
	}

	args := []string{"-hide_banner", "-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, "-y")
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	} else if len(b.videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(b.videoFilters, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{Binary: b.binary, Args: args}, nil
}
