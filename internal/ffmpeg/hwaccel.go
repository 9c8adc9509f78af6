package ffmpeg

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/vodarr/vodarr/internal/models"
)

// EncoderProbe is the outcome of a live encoder test for one hardware
// family. A family is only reported available when ffmpeg completed a
// real (if tiny) encode with it, not merely when the build lists it.
type EncoderProbe struct {
	Family    models.HWAccel `json:"family"`
	Encoder   string         `json:"encoder"`
	Available bool           `json:"available"`
	Device    string         `json:"device,omitempty"`
}

// probeTimeout bounds a single encoder test. Hardware init that takes
// longer than this is treated as unavailable.
const probeTimeout = 10 * time.Second

// HWProber tests hardware encoder families by running short nullsrc
// encodes through the detected ffmpeg binary.
type HWProber struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewHWProber creates a prober for the given ffmpeg binary.
func NewHWProber(ffmpegPath string, logger *slog.Logger) *HWProber {
	return &HWProber{
		ffmpegPath: ffmpegPath,
		logger:     logger.With(slog.String("component", "hwprobe")),
	}
}

// platformFamilies returns the encoder families worth testing on this
// platform.
func platformFamilies() []models.HWAccel {
	switch runtime.GOOS {
	case "linux":
		return []models.HWAccel{models.HWAccelNVENC, models.HWAccelQSV, models.HWAccelVAAPI}
	case "darwin":
		return []models.HWAccel{models.HWAccelVideoToolbox}
	case "windows":
		return []models.HWAccel{models.HWAccelNVENC, models.HWAccelQSV, models.HWAccelAMF}
	default:
		return nil
	}
}

// Probe tests every family relevant to this platform and returns one
// result per family, available or not.
func (p *HWProber) Probe(ctx context.Context) []EncoderProbe {
	var results []EncoderProbe
	for _, family := range platformFamilies() {
		probe := p.probeFamily(ctx, family)
		p.logger.Debug("encoder probe finished",
			slog.String("family", string(probe.Family)),
			slog.String("encoder", probe.Encoder),
			slog.Bool("available", probe.Available))
		results = append(results, probe)
	}
	return results
}

func (p *HWProber) probeFamily(ctx context.Context, family models.HWAccel) EncoderProbe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	probe := EncoderProbe{Family: family}

	switch family {
	case models.HWAccelNVENC:
		probe.Encoder = "h264_nvenc"
		probe.Available, probe.Device = p.testNVENC(ctx)
	case models.HWAccelQSV:
		probe.Encoder = "h264_qsv"
		probe.Available = p.testEncode(ctx,
			"-init_hw_device", "qsv=hw",
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-vf", "hwupload=extra_hw_frames=64,format=qsv",
			"-c:v", "h264_qsv")
		if probe.Available {
			probe.Device = "Intel Quick Sync"
		}
	case models.HWAccelVAAPI:
		probe.Encoder = "h264_vaapi"
		probe.Available, probe.Device = p.testVAAPI(ctx)
	case models.HWAccelAMF:
		probe.Encoder = "h264_amf"
		probe.Available = p.testEncode(ctx,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-c:v", "h264_amf")
		if probe.Available {
			probe.Device = "AMD AMF"
		}
	case models.HWAccelVideoToolbox:
		probe.Encoder = "h264_videotoolbox"
		probe.Available = p.testEncode(ctx,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-c:v", "h264_videotoolbox")
		if probe.Available {
			probe.Device = "Apple VideoToolbox"
		}
	}

	return probe
}

// testEncode runs a minimal encode to a null muxer with the given args.
func (p *HWProber) testEncode(ctx context.Context, args ...string) bool {
	full := append([]string{"-hide_banner"}, args...)
	full = append(full, "-t", "0.01", "-f", "null", "-")
	return exec.CommandContext(ctx, p.ffmpegPath, full...).Run() == nil
}

// testNVENC checks for an NVIDIA GPU via nvidia-smi, then verifies the
// encoder actually initializes. Listing alone is not enough: builds
// often ship h264_nvenc without a usable driver behind it.
func (p *HWProber) testNVENC(ctx context.Context) (bool, string) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return false, ""
	}

	device := strings.TrimSpace(strings.Split(string(output), "\n")[0])
	if device == "" {
		return false, ""
	}

	ok := p.testEncode(ctx,
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_nvenc")
	if !ok {
		return false, ""
	}

	return true, device
}

// testVAAPI tries the usual render nodes in order.
func (p *HWProber) testVAAPI(ctx context.Context) (bool, string) {
	for _, device := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
		ok := p.testEncode(ctx,
			"-vaapi_device", device,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi")
		if ok {
			return true, device
		}
	}
	return false, ""
}

// AvailableFamilies filters probes down to the usable families in
// preference order.
func AvailableFamilies(probes []EncoderProbe) []models.HWAccel {
	preference := []models.HWAccel{
		models.HWAccelNVENC,
		models.HWAccelQSV,
		models.HWAccelVAAPI,
		models.HWAccelAMF,
		models.HWAccelVideoToolbox,
	}

	available := make(map[models.HWAccel]bool, len(probes))
	for _, probe := range probes {
		if probe.Available {
			available[probe.Family] = true
		}
	}

	var families []models.HWAccel
	for _, family := range preference {
		if available[family] {
			families = append(families, family)
		}
	}
	return families
}
