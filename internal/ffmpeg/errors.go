package ffmpeg

import (
	"fmt"
	"strings"
)

// ErrorClass buckets encoder failures by how the engine should react.
type ErrorClass string

const (
	// ErrorClassHardware marks failures of a GPU encoder path. The
	// engine replans onto software when fallback is enabled.
	ErrorClassHardware ErrorClass = "encoder_hardware"
	// ErrorClassTransient marks failures worth retrying with backoff.
	ErrorClassTransient ErrorClass = "encoder_transient"
	// ErrorClassResource marks host resource exhaustion. Retried once,
	// then treated as fatal.
	ErrorClassResource ErrorClass = "encoder_resource"
	// ErrorClassFatal marks failures that no retry can fix.
	ErrorClassFatal ErrorClass = "encoder_fatal"
	// ErrorClassUnknown marks unclassified failures. Retried at most once.
	ErrorClassUnknown ErrorClass = "encoder_unknown"
)

// ProcessError describes a failed or interrupted encoder run.
type ProcessError struct {
	// ExitCode is the process exit code, -1 when killed by signal.
	ExitCode int

	// Class is the classification derived from stderr.
	Class ErrorClass

	// Stderr is the tail of the process stderr, capped at 2 KB.
	Stderr string

	// Stalled is set when the stall watchdog terminated the process.
	Stalled bool

	// Cancelled is set when a cancel request terminated the process.
	Cancelled bool
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	switch {
	case e.Cancelled:
		return "ffmpeg cancelled"
	case e.Stalled:
		return fmt.Sprintf("ffmpeg stalled (exit %d)", e.ExitCode)
	default:
		return fmt.Sprintf("ffmpeg failed (exit %d, %s)", e.ExitCode, e.Class)
	}
}

// Retryable reports whether the engine may rerun the same plan.
func (e *ProcessError) Retryable() bool {
	if e.Cancelled {
		return false
	}
	if e.Stalled {
		return true
	}
	switch e.Class {
	case ErrorClassTransient, ErrorClassResource, ErrorClassUnknown:
		return true
	default:
		return false
	}
}

// stderr patterns checked in bucket order: the first matching bucket wins.
// Client HTTP statuses come first so a 404 is never retried under the
// transient 5xx rule, and hardware comes before fatal so that e.g.
// "unknown encoder h264_nvenc" triggers software fallback instead of a
// permanent failure.
var (
	httpFatalPatterns = []string{
		"404 not found",
		"403 forbidden",
		"401 unauthorized",
	}

	hardwarePatterns = []string{
		"nvenc",
		"cuda",
		"cuvid",
		"qsv",
		"mfx",
		"amf",
		"vaapi",
		"videotoolbox",
		"hw_frames_ctx",
		"hwaccel",
		"driver version",
		"no capable devices",
		"cannot load nvcuda",
		"failed to create",
		"device creation failed",
	}

	transientPatterns = []string{
		"connection refused",
		"connection reset",
		"timed out",
		"temporary failure",
		"network is unreachable",
		"end of file",
		"broken pipe",
		"server returned 5",
		"ssl",
		"tls",
	}

	resourcePatterns = []string{
		"out of memory",
		"cannot allocate",
		"no space left",
		"too many open files",
	}

	fatalPatterns = []string{
		"invalid data found",
		"no such file",
		"unknown encoder",
		"encoder not found",
		"unsupported codec",
		"invalid argument",
		"moov atom not found",
		"permission denied",
	}
)

// Classify buckets an encoder failure by its stderr tail.
func Classify(stderr string) ErrorClass {
	s := strings.ToLower(stderr)

	for _, p := range httpFatalPatterns {
		if strings.Contains(s, p) {
			return ErrorClassFatal
		}
	}
	for _, p := range hardwarePatterns {
		if strings.Contains(s, p) {
			return ErrorClassHardware
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(s, p) {
			return ErrorClassTransient
		}
	}
	for _, p := range resourcePatterns {
		if strings.Contains(s, p) {
			return ErrorClassResource
		}
	}
	for _, p := range fatalPatterns {
		if strings.Contains(s, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassUnknown
}
