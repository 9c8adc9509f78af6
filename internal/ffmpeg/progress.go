package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is one sample from ffmpeg's -progress key=value stream. A sample
// is complete when the progress= line arrives.
type Progress struct {
	// Frame is the last encoded frame number.
	Frame int64

	// FPS is the current encode frame rate.
	FPS float64

	// OutTime is the output timestamp reached.
	OutTime time.Duration

	// Speed is the realtime factor, e.g. 2.5 for "2.5x". 0 when ffmpeg
	// reports N/A.
	Speed float64

	// End is set on the final sample (progress=end).
	End bool
}

// ParseProgress reads ffmpeg -progress output from r and invokes emit for
// every completed sample. It returns when r is exhausted.
//
// Keys not needed here (bitrate, total_size, dup/drop counts) are skipped.
// Note out_time_ms carries MICROseconds despite the name; this matches
// ffmpeg's progress writer, which emits the same value for out_time_us.
func ParseProgress(r io.Reader, emit func(Progress)) error {
	scanner := bufio.NewScanner(r)
	var cur Progress

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Frame = n
			}
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cur.FPS = f
			}
		case "out_time_ms", "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			cur.Speed = parseSpeed(value)
		case "progress":
			cur.End = value == "end"
			emit(cur)
			end := cur.End
			cur = Progress{
				// Carry the last values forward so a sparse final
				// record still reports the high-water mark.
				Frame:   cur.Frame,
				FPS:     cur.FPS,
				OutTime: cur.OutTime,
				Speed:   cur.Speed,
			}
			if end {
				return nil
			}
		}
	}

	return scanner.Err()
}

// parseSpeed converts ffmpeg's "2.5x" notation. "N/A" (start of encode)
// parses to 0.
func parseSpeed(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "x")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
