package media

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult describes the media file as reported by ffprobe.
type ProbeResult struct {
	Duration       time.Duration
	HasAudioStream bool
	Format         string
	Tags           map[string]string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe inspects a media file and returns its duration, streams and
// container tags. A probe failure is reported as a ConversionError.
func (s *Service) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, s.cfg.FFprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return nil, categorizeError(path, err, stderr)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, &ConversionError{Input: path, Message: "failed to parse probe output", Err: err}
	}

	result := &ProbeResult{
		Format: probed.Format.FormatName,
		Tags:   probed.Format.Tags,
	}

	if seconds, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil && seconds > 0 {
		result.Duration = time.Duration(seconds * float64(time.Second))
	}

	for _, stream := range probed.Streams {
		if stream.CodecType == "audio" {
			result.HasAudioStream = true
			break
		}
	}

	return result, nil
}

// Duration returns the media duration, or zero when ffprobe cannot
// determine it.
func (s *Service) Duration(ctx context.Context, path string) (time.Duration, error) {
	result, err := s.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return result.Duration, nil
}
