package engine

import (
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/segments"
	"github.com/vodarr/vodarr/internal/subtitles"
)

// tonemapFilter converts PQ/HLG sources to SDR BT.709 before scaling.
// Mobius keeps midtones natural at the cost of some highlight detail.
const tonemapFilter = "zscale=t=linear:npl=100,tonemap=mobius:desat=0," +
	"zscale=p=bt709:t=bt709:m=bt709,format=yuv420p"

const (
	defaultFPS = 25.0

	// subtitleFallbackDurationS sizes sidecar subtitle playlists when the
	// source duration is unknown.
	subtitleFallbackDurationS = 3600.0

	// batchFallbackBitrate feeds two-pass batch encodes of sources whose
	// height could not be probed. Rate control needs a target.
	batchFallbackBitrate int64 = 8_000_000
)

// rung is one step of the quality ladder.
type rung struct {
	height  int
	bitrate int64
}

// qualityLadder is ordered top-down; filtering keeps the highest rungs
// the source and the host allow.
var qualityLadder = []rung{
	{2160, 20_000_000},
	{1080, 8_000_000},
	{720, 4_000_000},
	{480, 1_500_000},
	{360, 800_000},
}

// canonicalWidths maps ladder heights to their 16:9 widths for master
// playlist RESOLUTION attributes.
var canonicalWidths = map[int]int{
	2160: 3840,
	1440: 2560,
	1080: 1920,
	720:  1280,
	480:  854,
	360:  640,
}

// audioBitrates picks the audio rate by output channel count.
var audioBitrates = map[int]string{
	1: "64k",
	2: "128k",
	6: "384k",
	8: "512k",
}

// videoCodecStrings are the RFC 6381 identifiers advertised in
// generated master playlists.
var videoCodecStrings = map[models.VideoCodec]string{
	models.VideoCodecH264: "avc1.640029",
	models.VideoCodecH265: "hvc1.1.6.L123.B0",
	models.VideoCodecVP9:  "vp09.00.41.08",
	models.VideoCodecAV1:  "av01.0.08M.08",
}

var audioCodecStrings = map[models.AudioCodec]string{
	models.AudioCodecAAC:  "mp4a.40.2",
	models.AudioCodecOpus: "opus",
	models.AudioCodecMP3:  "mp4a.40.34",
	models.AudioCodecFLAC: "fLaC",
	models.AudioCodecAC3:  "ac-3",
}

// Variant is one rendition of an HLS plan.
type Variant struct {
	Index    int
	Name     string
	Width    int
	Height   int
	Bitrate  int64
	Playlist string
}

// SubtitleSidecar is a generated media playlist wrapping one fetched
// WebVTT track, referenced from the master playlist.
type SubtitleSidecar struct {
	Track models.SubtitleTrack
	Rel   string
	Media *playlist.Media
}

// Plan is everything a worker needs to run one job: the exact ffmpeg
// invocations, the playlists to write, and the bookkeeping the
// registry records.
type Plan struct {
	Mode    models.TranscodeMode
	HWAccel models.HWAccel
	Encoder string
	ToneMap bool
	TwoPass bool

	// DurationS is the expected output duration after the seek offset,
	// 0 when the probe could not determine one.
	DurationS float64
	FPS       float64

	Variants  []Variant
	Master    *playlist.Multivariant
	Subtitles []SubtitleSidecar

	// OutputRel is the batch output path relative to the working dir.
	OutputRel string

	Commands []*ffmpeg.Command

	// fpsProbed distinguishes a measured frame rate from the default;
	// only measured rates are advertised in the master playlist.
	fpsProbed bool
}

// VariantDirs lists the per-variant directories ffmpeg expects to
// exist before it starts writing.
func (p *Plan) VariantDirs() []string {
	var dirs []string
	for _, v := range p.Variants {
		if dir := filepath.Dir(v.Playlist); dir != "." {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// PlanInput carries the per-job facts planning works from.
type PlanInput struct {
	Request models.TranscodeRequest

	// Source is the probe summary, nil when probing failed.
	Source *ffmpeg.SourceInfo

	WorkDir string

	// QualityFactor is the admission controller's quality scale at
	// dispatch time, 1.0 under normal conditions.
	QualityFactor float64

	// Subtitles are the tracks that were actually fetched.
	Subtitles []subtitles.Fetched

	// ForceSoftware replans onto the CPU encoder after a hardware
	// failure. It also disables two-pass.
	ForceSoftware bool
}

// Planner turns requests into executable plans against the detected
// hardware profile.
type Planner struct {
	transcoding config.TranscodingConfig
	hardware    config.HardwareConfig
	profile     *hardware.Profile
	ffmpegPath  string
	logger      *slog.Logger
}

// NewPlanner creates a planner bound to the host profile.
func NewPlanner(cfg *config.Config, profile *hardware.Profile, logger *slog.Logger) *Planner {
	return &Planner{
		transcoding: cfg.Transcoding,
		hardware:    cfg.Hardware,
		profile:     profile,
		ffmpegPath:  profile.FFmpegPath,
		logger:      logger.With(slog.String("component", "planner")),
	}
}

// Plan builds the execution plan for a job attempt.
func (p *Planner) Plan(in PlanInput) (*Plan, error) {
	req := in.Request
	qf := in.QualityFactor
	if qf <= 0 || qf > 1 {
		qf = 1.0
	}

	if req.Mode == models.ModeABR && in.Source == nil {
		return nil, fmt.Errorf("abr ladder requires source dimensions, probe failed")
	}

	encoder, encoderArgs, family, err := p.resolveEncoder(req.Output.VideoCodec, req.HWAccel, in.ForceSoftware)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Mode:      req.Mode,
		HWAccel:   family,
		Encoder:   encoder,
		ToneMap:   p.needsToneMap(in.Source, req.Output.VideoCodec),
		FPS:       sourceFPS(in.Source),
		fpsProbed: in.Source != nil && in.Source.FrameRate > 0,
	}
	if in.Source != nil && in.Source.DurationS > 0 {
		plan.DurationS = math.Max(in.Source.DurationS-req.StartTimeS, 0)
	}

	switch req.Mode {
	case models.ModeStream:
		err = p.planStream(plan, in, encoder, encoderArgs, qf)
	case models.ModeABR:
		err = p.planABR(plan, in, encoder, encoderArgs, qf)
	case models.ModeBatch:
		err = p.planBatch(plan, in, encoder, encoderArgs, qf)
	default:
		err = fmt.Errorf("unsupported mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if req.Mode.HLS() {
		plan.Subtitles = p.subtitleSidecars(plan, in.Subtitles)
		plan.Master = p.buildMaster(plan, req)
	}

	p.logger.Debug("plan ready",
		slog.String("mode", string(plan.Mode)),
		slog.String("encoder", plan.Encoder),
		slog.String("hw_accel", string(plan.HWAccel)),
		slog.Bool("tone_map", plan.ToneMap),
		slog.Bool("two_pass", plan.TwoPass),
		slog.Int("variants", len(plan.Variants)),
		slog.Float64("quality_factor", qf))

	return plan, nil
}

// encoderEntry pairs an ffmpeg encoder name with its extra args.
type encoderEntry struct {
	name string
	args []string
}

// encoderTable maps codec and family to the ffmpeg encoder. Families
// missing a codec entry cannot encode it in hardware.
func (p *Planner) encoderTable(codec models.VideoCodec) map[models.HWAccel]encoderEntry {
	nvencArgs := []string{"-preset", p.hardware.NVENCPreset}

	switch codec {
	case models.VideoCodecH265:
		return map[models.HWAccel]encoderEntry{
			models.HWAccelNVENC:        {"hevc_nvenc", nvencArgs},
			models.HWAccelQSV:          {"hevc_qsv", nil},
			models.HWAccelVAAPI:        {"hevc_vaapi", nil},
			models.HWAccelAMF:          {"hevc_amf", nil},
			models.HWAccelVideoToolbox: {"hevc_videotoolbox", nil},
			models.HWAccelSoftware:     {"libx265", []string{"-preset", "medium"}},
		}
	case models.VideoCodecVP9:
		return map[models.HWAccel]encoderEntry{
			models.HWAccelQSV:      {"vp9_qsv", nil},
			models.HWAccelVAAPI:    {"vp9_vaapi", nil},
			models.HWAccelSoftware: {"libvpx-vp9", nil},
		}
	case models.VideoCodecAV1:
		return map[models.HWAccel]encoderEntry{
			models.HWAccelNVENC:    {"av1_nvenc", nvencArgs},
			models.HWAccelQSV:      {"av1_qsv", nil},
			models.HWAccelVAAPI:    {"av1_vaapi", nil},
			models.HWAccelSoftware: {"libaom-av1", nil},
		}
	default:
		return map[models.HWAccel]encoderEntry{
			models.HWAccelNVENC:        {"h264_nvenc", nvencArgs},
			models.HWAccelQSV:          {"h264_qsv", nil},
			models.HWAccelVAAPI:        {"h264_vaapi", nil},
			models.HWAccelAMF:          {"h264_amf", nil},
			models.HWAccelVideoToolbox: {"h264_videotoolbox", nil},
			models.HWAccelSoftware:     {"libx264", []string{"-preset", "medium"}},
		}
	}
}

// resolveEncoder picks the encoder for a codec and family request. Auto
// walks the detected families in preference order and takes the first
// one that can encode the codec. An explicit family that is unavailable
// or cannot encode the codec degrades to software only when fallback is
// enabled.
func (p *Planner) resolveEncoder(codec models.VideoCodec, requested models.HWAccel, forceSoftware bool) (string, []string, models.HWAccel, error) {
	table := p.encoderTable(codec)
	software := table[models.HWAccelSoftware]

	if forceSoftware || requested == models.HWAccelSoftware {
		return software.name, software.args, models.HWAccelSoftware, nil
	}

	if requested == models.HWAccelAuto || requested == "" {
		if p.hardware.PreferHWAccel {
			for _, family := range p.profile.Families {
				if e, ok := table[family]; ok {
					return e.name, e.args, family, nil
				}
			}
		}
		return software.name, software.args, models.HWAccelSoftware, nil
	}

	if p.profile.FamilyAvailable(requested) {
		if e, ok := table[requested]; ok {
			return e.name, e.args, requested, nil
		}
		if p.hardware.FallbackToSoftware {
			return software.name, software.args, models.HWAccelSoftware, nil
		}
		return "", nil, "", fmt.Errorf("%s cannot encode %s and software fallback is disabled", requested, codec)
	}
	if p.hardware.FallbackToSoftware {
		return software.name, software.args, models.HWAccelSoftware, nil
	}
	return "", nil, "", fmt.Errorf("encoder family %s is not available and software fallback is disabled", requested)
}

func (p *Planner) needsToneMap(src *ffmpeg.SourceInfo, codec models.VideoCodec) bool {
	return p.transcoding.ToneMapHDR &&
		src != nil && src.IsHDR() &&
		codec.EightBit()
}

// targetHeight caps the output height at the smallest of the explicit
// request, the tier ceiling scaled by the quality factor, and the
// source height. Output is never upscaled.
func (p *Planner) targetHeight(req models.TranscodeRequest, src *ffmpeg.SourceInfo, qf float64) int {
	h := int(float64(p.profile.MaxResolution.Height()) * qf)
	if reqH := req.Output.Resolution.Height(); reqH > 0 && reqH < h {
		h = reqH
	}
	if src != nil && src.Height > 0 && src.Height < h {
		h = src.Height
	}
	return h - h%2
}

// defaultBitrate picks the ladder rate for the closest rung at or
// below the height.
func defaultBitrate(height int) int64 {
	for _, r := range qualityLadder {
		if height >= r.height {
			return r.bitrate
		}
	}
	return qualityLadder[len(qualityLadder)-1].bitrate
}

func widthFor(height int, src *ffmpeg.SourceInfo) int {
	if w, ok := canonicalWidths[height]; ok {
		return w
	}
	if src != nil && src.Width > 0 && src.Height > 0 {
		w := int(math.Round(float64(src.Width) * float64(height) / float64(src.Height)))
		return w - w%2
	}
	w := height * 16 / 9
	return w - w%2
}

func sourceFPS(src *ffmpeg.SourceInfo) float64 {
	if src != nil && src.FrameRate > 0 {
		return src.FrameRate
	}
	return defaultFPS
}

func gopFrames(fps float64) int {
	return int(math.Round(fps * 2))
}

func isHTTPSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// hwDecodeArgs pairs encoders with their decode-side acceleration.
// Decoded frames stay in system memory so the scale and tonemap
// filters keep working.
func hwDecodeArgs(family models.HWAccel) []string {
	switch family {
	case models.HWAccelNVENC:
		return []string{"-hwaccel", "cuda"}
	case models.HWAccelQSV:
		return []string{"-hwaccel", "qsv"}
	case models.HWAccelVAAPI:
		return []string{"-hwaccel", "vaapi"}
	case models.HWAccelVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	case models.HWAccelAMF:
		return []string{"-hwaccel", "d3d11va"}
	default:
		return nil
	}
}

// newBuilder assembles the input half shared by every mode.
func (p *Planner) newBuilder(plan *Plan, in PlanInput) *ffmpeg.CommandBuilder {
	b := ffmpeg.NewCommandBuilder(p.ffmpegPath).ProgressPipe()
	if isHTTPSource(in.Request.Source) {
		b.Reconnect()
	}
	// Tone mapping runs on the CPU, so frames must be decoded there too.
	if plan.HWAccel.Hardware() && !plan.ToneMap {
		b.InputArgs(hwDecodeArgs(plan.HWAccel)...)
	}
	b.Seek(in.Request.StartTimeS)
	b.Input(in.Request.Source)
	return b
}

func (p *Planner) audioArgs(b *ffmpeg.CommandBuilder, req models.TranscodeRequest, src *ffmpeg.SourceInfo) {
	encoder := audioEncoderFor(req.Output.AudioCodec)
	b.AudioCodec(encoder)

	channels := req.Output.MaxAudioChannels
	if src != nil && src.AudioChannels > 0 && src.AudioChannels < channels {
		channels = src.AudioChannels
	}
	if channels <= 0 {
		channels = 2
	}

	if req.Output.AudioCodec != models.AudioCodecFLAC {
		b.AudioBitrate(audioBitrateFor(req, channels))
	}
	b.AudioChannels(channels)
}

func audioEncoderFor(codec models.AudioCodec) string {
	switch codec {
	case models.AudioCodecOpus:
		return "libopus"
	case models.AudioCodecMP3:
		return "libmp3lame"
	case models.AudioCodecFLAC:
		return "flac"
	case models.AudioCodecAC3:
		return "ac3"
	default:
		return "aac"
	}
}

func audioBitrateFor(req models.TranscodeRequest, channels int) string {
	if req.Output.AudioBitrate != "" {
		return req.Output.AudioBitrate
	}
	if br, ok := audioBitrates[channels]; ok {
		return br
	}
	return "128k"
}

// videoFilter builds the -vf chain: optional tonemap, then the even
// width scale.
func videoFilter(plan *Plan, height int) string {
	var parts []string
	if plan.ToneMap {
		parts = append(parts, tonemapFilter)
	}
	if height > 0 {
		parts = append(parts, fmt.Sprintf("scale=-2:%d", height))
	}
	return strings.Join(parts, ",")
}

func (p *Planner) planStream(plan *Plan, in PlanInput, encoder string, encoderArgs []string, qf float64) error {
	req := in.Request
	height := p.targetHeight(req, in.Source, qf)

	bitrate := p.requestedBitrate(req)
	if bitrate == 0 {
		bitrate = defaultBitrate(height)
	}

	plan.Variants = []Variant{{
		Index:    0,
		Name:     fmt.Sprintf("%dp", height),
		Width:    widthFor(height, in.Source),
		Height:   height,
		Bitrate:  bitrate,
		Playlist: "index.m3u8",
	}}

	b := p.newBuilder(plan, in)
	b.Map("0:v:0").Map("0:a:0?")
	b.VideoCodec(encoder).OutputArgs(encoderArgs...)
	b.VideoFilter(videoFilter(plan, height))
	rate := models.FormatBitrate(bitrate)
	b.VideoBitrate(rate, rate, models.FormatBitrate(bitrate*2))
	b.GOP(gopFrames(plan.FPS))
	p.audioArgs(b, req, in.Source)
	b.HLS(p.transcoding.SegmentDurationS, filepath.Join(in.WorkDir, "segment_%05d.ts"))
	b.Output(filepath.Join(in.WorkDir, "index.m3u8"))

	cmd, err := b.Build()
	if err != nil {
		return err
	}
	plan.Commands = []*ffmpeg.Command{cmd}
	return nil
}

// abrRungs filters the ladder to what source and host support, keeping
// at most the configured number of the highest rungs. Sources below
// the lowest rung get a single rung at their own height.
func (p *Planner) abrRungs(src *ffmpeg.SourceInfo, qf float64) []rung {
	capH := int(float64(p.profile.MaxResolution.Height()) * qf)
	if src.Height > 0 && src.Height < capH {
		capH = src.Height
	}

	var rungs []rung
	for _, r := range qualityLadder {
		if r.height <= capH {
			rungs = append(rungs, r)
		}
	}
	if len(rungs) == 0 {
		h := capH - capH%2
		rungs = []rung{{height: h, bitrate: qualityLadder[len(qualityLadder)-1].bitrate}}
	}

	maxVariants := p.transcoding.ABRMaxVariants
	if maxVariants <= 0 {
		maxVariants = 4
	}
	if len(rungs) > maxVariants {
		rungs = rungs[:maxVariants]
	}
	return rungs
}

func (p *Planner) planABR(plan *Plan, in PlanInput, encoder string, encoderArgs []string, qf float64) error {
	req := in.Request
	rungs := p.abrRungs(in.Source, qf)

	plan.Variants = make([]Variant, len(rungs))
	for i, r := range rungs {
		plan.Variants[i] = Variant{
			Index:    i,
			Name:     fmt.Sprintf("%dp", r.height),
			Width:    widthFor(r.height, in.Source),
			Height:   r.height,
			Bitrate:  r.bitrate,
			Playlist: filepath.Join(fmt.Sprintf("v%d", i), "playlist.m3u8"),
		}
	}

	b := p.newBuilder(plan, in)
	b.FilterComplex(p.abrFilterGraph(plan))

	var streamMaps []string
	for i, v := range plan.Variants {
		idx := strconv.Itoa(i)
		b.OutputArgs("-map", "[v"+idx+"]")
		b.OutputArgs("-c:v:"+idx, encoder)
		for j := 0; j+1 < len(encoderArgs); j += 2 {
			b.OutputArgs(encoderArgs[j]+":v:"+idx, encoderArgs[j+1])
		}
		rate := models.FormatBitrate(v.Bitrate)
		b.OutputArgs("-b:v:"+idx, rate)
		b.OutputArgs("-maxrate:v:"+idx, rate)
		b.OutputArgs("-bufsize:v:"+idx, models.FormatBitrate(v.Bitrate*2))
		b.OutputArgs("-map", "0:a:0?")
		streamMaps = append(streamMaps, fmt.Sprintf("v:%d,a:%d", i, i))
	}
	b.GOP(gopFrames(plan.FPS))
	p.audioArgs(b, req, in.Source)
	b.VarStreamMap(strings.Join(streamMaps, " "))
	b.MasterPlaylist(segments.MasterPlaylistName)
	b.HLS(p.transcoding.SegmentDurationS, filepath.Join(in.WorkDir, "v%v", "segment_%05d.ts"))
	b.Output(filepath.Join(in.WorkDir, "v%v", "playlist.m3u8"))

	cmd, err := b.Build()
	if err != nil {
		return err
	}
	plan.Commands = []*ffmpeg.Command{cmd}
	return nil
}

// abrFilterGraph splits the decoded stream once and scales each leg,
// tonemapping before the split so it runs a single time.
func (p *Planner) abrFilterGraph(plan *Plan) string {
	n := len(plan.Variants)

	var split strings.Builder
	split.WriteString("[0:v]")
	if plan.ToneMap {
		split.WriteString(tonemapFilter)
		split.WriteString(",")
	}
	split.WriteString(fmt.Sprintf("split=%d", n))
	for i := 0; i < n; i++ {
		split.WriteString(fmt.Sprintf("[s%d]", i))
	}

	parts := []string{split.String()}
	for i, v := range plan.Variants {
		parts = append(parts, fmt.Sprintf("[s%d]scale=-2:%d[v%d]", i, v.Height, i))
	}
	return strings.Join(parts, ";")
}

func (p *Planner) planBatch(plan *Plan, in PlanInput, encoder string, encoderArgs []string, qf float64) error {
	req := in.Request
	container := req.Output.Container
	plan.OutputRel = "output." + string(container)

	// Batch keeps the source resolution unless one was requested;
	// the tier ceiling shapes live streams, not offline encodes.
	height := 0
	if reqH := req.Output.Resolution.Height(); reqH > 0 {
		height = reqH
		if in.Source != nil && in.Source.Height > 0 && in.Source.Height < height {
			height = in.Source.Height
		}
		height -= height % 2
	}

	bitrate := p.requestedBitrate(req)
	if bitrate == 0 && height > 0 {
		bitrate = defaultBitrate(height)
	} else if bitrate == 0 && in.Source != nil && in.Source.Height > 0 {
		bitrate = defaultBitrate(in.Source.Height)
	}

	plan.TwoPass = req.Output.TwoPass &&
		!in.ForceSoftware &&
		strings.HasPrefix(encoder, "lib")
	if plan.TwoPass && bitrate == 0 {
		bitrate = batchFallbackBitrate
	}

	quality := bitrate == 0

	build := func(pass int) (*ffmpeg.Command, error) {
		b := p.newBuilder(plan, in)
		b.Map("0:v:0")
		if !(plan.TwoPass && pass == 1) {
			b.Map("0:a:0?")
		}
		b.VideoCodec(encoder).OutputArgs(encoderArgs...)
		if quality {
			b.OutputArgs(qualityArgs(encoder)...)
		}
		b.VideoFilter(videoFilter(plan, height))
		if bitrate > 0 {
			rate := models.FormatBitrate(bitrate)
			b.VideoBitrate(rate, rate, models.FormatBitrate(bitrate*2))
		}
		b.GOP(gopFrames(plan.FPS))

		if plan.TwoPass && pass == 1 {
			b.TwoPass(1, filepath.Join(in.WorkDir, "fflog"))
			b.Format("null")
			b.Output(nullDevice())
			return b.Build()
		}
		if plan.TwoPass {
			b.TwoPass(2, filepath.Join(in.WorkDir, "fflog"))
		}
		p.audioArgs(b, req, in.Source)
		switch container {
		case models.ContainerMP4:
			b.FastStart()
		case models.ContainerMKV:
			b.Format("matroska")
		case models.ContainerWebM:
			b.Format("webm")
		}
		b.Output(filepath.Join(in.WorkDir, plan.OutputRel))
		return b.Build()
	}

	if plan.TwoPass {
		pass1, err := build(1)
		if err != nil {
			return err
		}
		pass2, err := build(2)
		if err != nil {
			return err
		}
		plan.Commands = []*ffmpeg.Command{pass1, pass2}
		return nil
	}

	cmd, err := build(0)
	if err != nil {
		return err
	}
	plan.Commands = []*ffmpeg.Command{cmd}
	return nil
}

func (p *Planner) requestedBitrate(req models.TranscodeRequest) int64 {
	if req.Output.VideoBitrate == "" {
		return 0
	}
	bps, err := models.ParseBitrate(req.Output.VideoBitrate)
	if err != nil {
		return 0
	}
	return bps
}

// qualityArgs configures constant-quality encoding for batch jobs
// without a rate target.
func qualityArgs(encoder string) []string {
	switch encoder {
	case "libx264":
		return []string{"-crf", "23"}
	case "libx265":
		return []string{"-crf", "28"}
	case "libvpx-vp9":
		return []string{"-crf", "30", "-b:v", "0"}
	case "libaom-av1":
		return []string{"-crf", "30"}
	default:
		return nil
	}
}

func nullDevice() string {
	if runtime.GOOS == "windows" {
		return "NUL"
	}
	return "/dev/null"
}

// subtitleSidecars wraps each fetched track in a single-segment VOD
// playlist, which is what HLS players expect EXT-X-MEDIA URIs to
// reference.
func (p *Planner) subtitleSidecars(plan *Plan, tracks []subtitles.Fetched) []SubtitleSidecar {
	if len(tracks) == 0 {
		return nil
	}
	durationS := plan.DurationS
	if durationS <= 0 {
		durationS = subtitleFallbackDurationS
	}
	vod := playlist.MediaPlaylistType(playlist.MediaPlaylistTypeVOD)

	sidecars := make([]SubtitleSidecar, 0, len(tracks))
	for _, tr := range tracks {
		rel := strings.TrimSuffix(tr.Path, filepath.Ext(tr.Path)) + ".m3u8"
		sidecars = append(sidecars, SubtitleSidecar{
			Track: tr.Track,
			Rel:   rel,
			Media: &playlist.Media{
				Version:        3,
				TargetDuration: int(math.Ceil(durationS)),
				PlaylistType:   &vod,
				Segments: []*playlist.MediaSegment{{
					URI:      path.Base(tr.Path),
					Duration: time.Duration(durationS * float64(time.Second)),
				}},
				Endlist: true,
			},
		})
	}
	return sidecars
}

// buildMaster generates the entry playlist: one variant per rendition
// plus a subtitle group when tracks were fetched.
func (p *Planner) buildMaster(plan *Plan, req models.TranscodeRequest) *playlist.Multivariant {
	master := &playlist.Multivariant{
		Version:             6,
		IndependentSegments: true,
	}

	subsGroup := ""
	if len(plan.Subtitles) > 0 {
		subsGroup = "subs"
	}

	codecs := []string{videoCodecStrings[req.Output.VideoCodec]}
	if audio, ok := audioCodecStrings[req.Output.AudioCodec]; ok {
		codecs = append(codecs, audio)
	}

	audioBps, err := models.ParseBitrate(audioBitrateFor(req, req.Output.MaxAudioChannels))
	if err != nil {
		audioBps = 128_000
	}

	for _, v := range plan.Variants {
		variant := &playlist.MultivariantVariant{
			Bandwidth:  int(v.Bitrate + audioBps),
			Codecs:     codecs,
			Resolution: fmt.Sprintf("%dx%d", v.Width, v.Height),
			Subtitles:  subsGroup,
			URI:        filepath.ToSlash(v.Playlist),
		}
		if plan.fpsProbed {
			frameRate := plan.FPS
			variant.FrameRate = &frameRate
		}
		master.Variants = append(master.Variants, variant)
	}

	for _, sidecar := range plan.Subtitles {
		uri := filepath.ToSlash(sidecar.Rel)
		master.Renditions = append(master.Renditions, &playlist.MultivariantRendition{
			Type:       playlist.MultivariantRenditionTypeSubtitles,
			GroupID:    "subs",
			URI:        &uri,
			Language:   sidecar.Track.Language,
			Name:       sidecar.Track.Title,
			Default:    sidecar.Track.Default,
			Autoselect: true,
		})
	}

	return master
}
