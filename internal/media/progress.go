package media

import (
	"strconv"
	"strings"
	"time"
)

// ProgressUpdate is a single decoded progress report from the encoder.
// Fraction is in [0,1] when the source duration is known, or -1 when it
// is not (indeterminate).
type ProgressUpdate struct {
	Elapsed  time.Duration
	Fraction float64
	Done     bool
}

// ProgressParser decodes the key=value stream ffmpeg writes when run
// with "-progress pipe:1". It is stateful: reported fractions never
// decrease, and unknown keys or malformed lines are skipped.
type ProgressParser struct {
	total        time.Duration
	lastElapsed  time.Duration
	lastFraction float64
}

// NewProgressParser creates a parser for a source of the given total
// duration. Pass zero when the duration is unknown.
func NewProgressParser(total time.Duration) *ProgressParser {
	return &ProgressParser{total: total}
}

// ParseLine consumes one line of progress output. It returns an update
// and true when the line carried new progress information.
func (p *ProgressParser) ParseLine(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)

	key, value, found := strings.Cut(line, "=")
	if !found {
		return ProgressUpdate{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_ms", "out_time_us":
		// Both keys report microseconds.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return ProgressUpdate{}, false
		}
		elapsed := time.Duration(us) * time.Microsecond
		if elapsed < p.lastElapsed {
			elapsed = p.lastElapsed
		}
		p.lastElapsed = elapsed
		return p.update(elapsed, false), true

	case "progress":
		if value == "end" {
			return p.update(p.lastElapsed, true), true
		}
		return ProgressUpdate{}, false

	default:
		return ProgressUpdate{}, false
	}
}

func (p *ProgressParser) update(elapsed time.Duration, done bool) ProgressUpdate {
	fraction := -1.0
	if p.total > 0 {
		fraction = float64(elapsed) / float64(p.total)
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		if fraction < p.lastFraction {
			fraction = p.lastFraction
		}
		p.lastFraction = fraction
	}
	if done && p.total > 0 {
		fraction = 1.0
		p.lastFraction = 1.0
	}
	return ProgressUpdate{Elapsed: elapsed, Fraction: fraction, Done: done}
}
