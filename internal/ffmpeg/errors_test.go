package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   ErrorClass
	}{
		{
			name:   "nvenc init failure",
			stderr: "[h264_nvenc @ 0x5555] Cannot load libnvidia-encode.so.1\nDriver version mismatch",
			want:   ErrorClassHardware,
		},
		{
			name:   "cuda unavailable",
			stderr: "CUDA error: no capable devices found",
			want:   ErrorClassHardware,
		},
		{
			name:   "qsv session failure",
			stderr: "Error initializing an MFX session: -9",
			want:   ErrorClassHardware,
		},
		{
			name:   "vaapi device failure",
			stderr: "Failed to initialise VAAPI connection: -1 (unknown libva error)",
			want:   ErrorClassHardware,
		},
		{
			name:   "unknown hardware encoder",
			stderr: "Unknown encoder 'h264_nvenc'",
			want:   ErrorClassHardware,
		},
		{
			name:   "connection reset",
			stderr: "tcp://example.com:1935: Connection reset by peer",
			want:   ErrorClassTransient,
		},
		{
			name:   "read timeout",
			stderr: "https://example.com/video.mp4: Operation timed out",
			want:   ErrorClassTransient,
		},
		{
			name:   "upstream 503",
			stderr: "Server returned 5XX Server Error reply",
			want:   ErrorClassTransient,
		},
		{
			name:   "tls handshake",
			stderr: "TLS connection was non-properly terminated",
			want:   ErrorClassTransient,
		},
		{
			name:   "http 404 is fatal not transient",
			stderr: "https://example.com/gone.mp4: Server returned 404 Not Found",
			want:   ErrorClassFatal,
		},
		{
			name:   "http 403 is fatal",
			stderr: "Server returned 403 Forbidden (access denied)",
			want:   ErrorClassFatal,
		},
		{
			name:   "out of memory",
			stderr: "av_malloc(): Cannot allocate memory",
			want:   ErrorClassResource,
		},
		{
			name:   "disk full",
			stderr: "Error writing trailer: No space left on device",
			want:   ErrorClassResource,
		},
		{
			name:   "corrupt input",
			stderr: "Invalid data found when processing input",
			want:   ErrorClassFatal,
		},
		{
			name:   "missing file",
			stderr: "/tmp/input.mkv: No such file or directory",
			want:   ErrorClassFatal,
		},
		{
			name:   "unknown software encoder is fatal",
			stderr: "Unknown encoder 'libx265'",
			want:   ErrorClassFatal,
		},
		{
			name:   "unrecognised output",
			stderr: "some novel failure mode",
			want:   ErrorClassUnknown,
		},
		{
			name:   "empty stderr",
			stderr: "",
			want:   ErrorClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stderr))
		})
	}
}

func TestProcessErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  ProcessError
		want bool
	}{
		{"cancelled never retries", ProcessError{Class: ErrorClassTransient, Cancelled: true}, false},
		{"stalled retries", ProcessError{Class: ErrorClassUnknown, Stalled: true}, true},
		{"transient retries", ProcessError{Class: ErrorClassTransient}, true},
		{"resource retries", ProcessError{Class: ErrorClassResource}, true},
		{"unknown retries", ProcessError{Class: ErrorClassUnknown}, true},
		{"hardware does not retry as-is", ProcessError{Class: ErrorClassHardware}, false},
		{"fatal does not retry", ProcessError{Class: ErrorClassFatal}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestProcessErrorError(t *testing.T) {
	err := &ProcessError{
		ExitCode: 1,
		Class:    ErrorClassHardware,
		Stderr:   "Cannot load nvcuda.dll",
	}
	msg := err.Error()
	assert.Contains(t, msg, "exit 1")
	assert.Contains(t, msg, "encoder_hardware")

	stalled := &ProcessError{ExitCode: -1, Class: ErrorClassUnknown, Stalled: true}
	assert.Contains(t, stalled.Error(), "stalled")

	cancelled := &ProcessError{ExitCode: -1, Class: ErrorClassUnknown, Cancelled: true}
	assert.Contains(t, cancelled.Error(), "cancelled")
}
