package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxStderrLines bounds the in-memory stderr ring per process.
	maxStderrLines = 100
	// maxStderrTail bounds the stderr excerpt attached to errors.
	maxStderrTail = 2048
	// defaultGraceTimeout is how long a process gets between the
	// interrupt signal and a hard kill.
	defaultGraceTimeout = 5 * time.Second
	// stallCheckInterval is how often the watchdog inspects progress.
	stallCheckInterval = 5 * time.Second
)

// RunOptions controls supervision of a single ffmpeg process.
type RunOptions struct {
	// StallTimeout aborts the process when the output timestamp has not
	// advanced for this long. Zero disables the watchdog.
	StallTimeout time.Duration

	// GraceTimeout is the window between interrupt and kill during
	// shutdown. Zero means defaultGraceTimeout.
	GraceTimeout time.Duration

	// Cancel aborts the process when closed. The resulting error is
	// marked cancelled and is never retryable.
	Cancel <-chan struct{}

	// OnProgress receives parsed progress updates. May be nil.
	OnProgress func(Progress)
}

// Runner executes ffmpeg commands and supervises them until exit.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a process runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With(slog.String("component", "ffmpeg-runner"))}
}

// Run starts the command and blocks until it exits, is cancelled, or
// stalls. A non-nil return is always a *ProcessError so callers can
// inspect the classification.
func (r *Runner) Run(ctx context.Context, command *Command, opts RunOptions) error {
	grace := opts.GraceTimeout
	if grace <= 0 {
		grace = defaultGraceTimeout
	}

	cmd := exec.Command(command.Binary, command.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ProcessError{ExitCode: -1, Class: ErrorClassFatal, Stderr: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ProcessError{ExitCode: -1, Class: ErrorClassFatal, Stderr: fmt.Sprintf("stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return &ProcessError{ExitCode: -1, Class: ErrorClassFatal, Stderr: fmt.Sprintf("starting ffmpeg: %v", err)}
	}

	r.logger.Debug("ffmpeg started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", command.String()))

	var (
		stderrMu    sync.Mutex
		stderrLines []string
	)

	// lastAdvance tracks the wall-clock time of the last forward movement
	// of the output timestamp, for the stall watchdog.
	var lastAdvance atomic.Int64
	lastAdvance.Store(time.Now().UnixNano())
	var lastOutTime atomic.Int64

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ParseProgress(stdout, func(p Progress) {
			if p.OutTime > time.Duration(lastOutTime.Load()) {
				lastOutTime.Store(int64(p.OutTime))
				lastAdvance.Store(time.Now().UnixNano())
			}
			if opts.OnProgress != nil {
				opts.OnProgress(p)
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Split(scanLinesWithCR)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			stderrMu.Lock()
			stderrLines = append(stderrLines, line)
			if len(stderrLines) > maxStderrLines {
				stderrLines = stderrLines[1:]
			}
			stderrMu.Unlock()
		}
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	var (
		stalled   bool
		cancelled bool
		waitErr   error
	)

	watchdog := time.NewTicker(stallCheckInterval)
	defer watchdog.Stop()

supervise:
	for {
		select {
		case waitErr = <-done:
			break supervise

		case <-ctx.Done():
			cancelled = true
			r.stop(cmd, grace, done, &waitErr)
			break supervise

		case <-opts.Cancel:
			cancelled = true
			r.stop(cmd, grace, done, &waitErr)
			break supervise

		case <-watchdog.C:
			if opts.StallTimeout <= 0 {
				continue
			}
			idle := time.Since(time.Unix(0, lastAdvance.Load()))
			if idle >= opts.StallTimeout {
				stalled = true
				r.logger.Warn("ffmpeg stalled, terminating",
					slog.Int("pid", cmd.Process.Pid),
					slog.Duration("idle", idle))
				r.stop(cmd, grace, done, &waitErr)
				break supervise
			}
		}
	}

	stderrMu.Lock()
	tail := stderrTail(stderrLines)
	stderrMu.Unlock()

	if waitErr == nil && !stalled && !cancelled {
		return nil
	}

	exitCode := -1
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr == nil {
		exitCode = 0
	}

	perr := &ProcessError{
		ExitCode:  exitCode,
		Class:     Classify(tail),
		Stderr:    tail,
		Stalled:   stalled,
		Cancelled: cancelled,
	}

	if cancelled {
		r.logger.Debug("ffmpeg cancelled", slog.Int("pid", cmd.Process.Pid))
	} else {
		r.logger.Warn("ffmpeg failed",
			slog.Int("pid", cmd.Process.Pid),
			slog.Int("exit_code", exitCode),
			slog.String("error_class", string(perr.Class)),
			slog.Bool("stalled", stalled))
	}

	return perr
}

// stop asks the process to exit and escalates to a hard kill when it
// does not comply within the grace window. It drains the done channel
// so the caller gets the final wait error.
func (r *Runner) stop(cmd *exec.Cmd, grace time.Duration, done <-chan error, waitErr *error) {
	if cmd.Process == nil {
		return
	}

	// Interrupt lets ffmpeg flush its muxer so partial output stays
	// readable. Platforms without interrupt support go straight to kill.
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
		*waitErr = <-done
		return
	}

	select {
	case *waitErr = <-done:
		return
	case <-time.After(grace):
		r.logger.Warn("ffmpeg did not exit after interrupt, killing",
			slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
	}

	*waitErr = <-done
}

// stderrTail joins ring buffer lines and trims to the last maxStderrTail
// bytes on a line boundary.
func stderrTail(lines []string) string {
	joined := strings.Join(lines, "\n")
	if len(joined) <= maxStderrTail {
		return joined
	}
	cut := joined[len(joined)-maxStderrTail:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}

// scanLinesWithCR splits on both \r and \n so carriage-return status
// updates from ffmpeg become separate lines.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
