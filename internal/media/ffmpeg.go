package media

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mp3forge/backend/internal/logger"
)

// Config holds configuration for the extraction service
type Config struct {
	// FFmpegPath is the path to the ffmpeg binary (default: "ffmpeg")
	FFmpegPath string
	// FFprobePath is the path to the ffprobe binary (default: "ffprobe")
	FFprobePath string
	// StatsPeriod is how often ffmpeg reports progress
	StatsPeriod time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		StatsPeriod: 500 * time.Millisecond,
	}
}

// ExtractOptions controls the encoding of a single file.
type ExtractOptions struct {
	// Bitrate is the MP3 bitrate, e.g. "192k"
	Bitrate string
	// SampleRate in Hz; zero keeps the source rate
	SampleRate int
	// PreserveMetadata copies container tags into the output
	PreserveMetadata bool
}

// Outcome is the result of a successful extraction.
type Outcome struct {
	OutputPath     string
	OutputSize     int64
	SourceDuration time.Duration
	Elapsed        time.Duration
}

// ProgressFunc receives decoded progress updates during extraction.
type ProgressFunc func(ProgressUpdate)

// Extractor converts a video file into an MP3.
type Extractor interface {
	Extract(ctx context.Context, input, output string, opts ExtractOptions, onProgress ProgressFunc) (*Outcome, error)
}

// Service wraps ffmpeg for audio extraction
type Service struct {
	cfg *Config
	log *logger.Logger
}

// New creates a new extraction service. Both binaries must be on PATH
// (or given as absolute paths) or construction fails.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StatsPeriod <= 0 {
		cfg.StatsPeriod = 500 * time.Millisecond
	}

	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return nil, ErrFFmpegNotFound
	}
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		return nil, ErrFFprobeNotFound
	}

	return &Service{
		cfg: cfg,
		log: logger.Default().WithComponent("media"),
	}, nil
}

// Extract converts input into an MP3 at output, reporting progress as
// the encoder runs. The caller bounds the run with ctx; on failure any
// partial output is removed.
func (s *Service) Extract(ctx context.Context, input, output string, opts ExtractOptions, onProgress ProgressFunc) (*Outcome, error) {
	start := time.Now()

	if _, err := os.Stat(input); err != nil {
		if os.IsNotExist(err) {
			return nil, &ConversionError{Input: input, Message: "input file not found", Err: ErrInputNotFound}
		}
		return nil, &ConversionError{Input: input, Message: "cannot access input file", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, &ConversionError{Input: input, Message: "failed to create output directory", Err: err}
	}

	// Duration is best effort; without it progress is indeterminate.
	var total time.Duration
	if probed, err := s.Probe(ctx, input); err == nil {
		total = probed.Duration
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	} else {
		s.log.Warn(ctx, "probe failed, progress will be indeterminate", map[string]interface{}{
			"input": input,
		})
	}

	args := s.buildArgs(input, output, opts)
	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ConversionError{Input: input, Message: "failed to create stdout pipe", Err: err}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ConversionError{Input: input, Message: "failed to create stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, categorizeError(input, err, "")
	}

	var stderrOutput strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrOutput.WriteString(scanner.Text())
			stderrOutput.WriteString("\n")
		}
	}()

	parser := NewProgressParser(total)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		update, ok := parser.ParseLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(update)
		}
	}

	<-stderrDone

	if err := cmd.Wait(); err != nil {
		os.Remove(output)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, categorizeError(input, err, stderrOutput.String())
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		os.Remove(output)
		return nil, &ConversionError{Input: input, Message: "output file not created", Stderr: stderrOutput.String(), Err: ErrOutputMissing}
	}

	if opts.PreserveMetadata {
		// Tag copy failures never fail the conversion.
		if err := s.copyTags(ctx, input, output); err != nil {
			s.log.Warn(ctx, "metadata copy failed", map[string]interface{}{
				"input": input,
				"error": err.Error(),
			})
		}
	}

	// Size may have changed if tags were rewritten.
	if after, err := os.Stat(output); err == nil {
		info = after
	}

	return &Outcome{
		OutputPath:     output,
		OutputSize:     info.Size(),
		SourceDuration: total,
		Elapsed:        time.Since(start),
	}, nil
}

// buildArgs assembles the ffmpeg command line for one extraction.
func (s *Service) buildArgs(input, output string, opts ExtractOptions) []string {
	bitrate := opts.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}

	args := []string{
		"-y",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", bitrate,
	}

	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}

	if opts.PreserveMetadata {
		args = append(args, "-map_metadata", "0")
	}

	args = append(args,
		"-progress", "pipe:1",
		"-nostats",
		"-stats_period", formatStatsPeriod(s.cfg.StatsPeriod),
		output,
	)

	return args
}

func formatStatsPeriod(d time.Duration) string {
	return fmt.Sprintf("%.1f", d.Seconds())
}
