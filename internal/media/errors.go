package media

import (
	"errors"
	"strings"
)

var (
	// ErrFFmpegNotFound indicates ffmpeg is not installed
	ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")

	// ErrFFprobeNotFound indicates ffprobe is not installed
	ErrFFprobeNotFound = errors.New("ffprobe not found in PATH")

	// ErrInputNotFound indicates the input file does not exist
	ErrInputNotFound = errors.New("input file not found")

	// ErrInvalidInput indicates the input is not a decodable media file
	ErrInvalidInput = errors.New("invalid or corrupt input file")

	// ErrNoAudioStream indicates the input has no audio to extract
	ErrNoAudioStream = errors.New("input has no audio stream")

	// ErrDiskFull indicates the output device is out of space
	ErrDiskFull = errors.New("insufficient disk space")

	// ErrConversionFailed indicates the encoder exited with an error
	ErrConversionFailed = errors.New("conversion failed")

	// ErrOutputMissing indicates ffmpeg exited cleanly but wrote no output
	ErrOutputMissing = errors.New("output file not created")
)

// ConversionError wraps an encoder error with the input path and a
// trailing excerpt of stderr for diagnostics.
type ConversionError struct {
	Input   string
	Message string
	Stderr  string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// StderrExcerpt returns up to the last n lines of captured stderr.
func (e *ConversionError) StderrExcerpt(n int) string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// categorizeError converts ffmpeg failures into specific error types
// based on what the encoder wrote to stderr.
func categorizeError(input string, err error, stderr string) error {
	stderrLower := strings.ToLower(stderr)

	switch {
	case strings.Contains(stderrLower, "no such file or directory"):
		return &ConversionError{Input: input, Message: "input file not found", Stderr: stderr, Err: ErrInputNotFound}

	case strings.Contains(stderrLower, "invalid data found") ||
		strings.Contains(stderrLower, "moov atom not found") ||
		strings.Contains(stderrLower, "invalid argument") ||
		strings.Contains(stderrLower, "could not find codec parameters"):
		return &ConversionError{Input: input, Message: "invalid or corrupt input file", Stderr: stderr, Err: ErrInvalidInput}

	case strings.Contains(stderrLower, "does not contain any stream") ||
		strings.Contains(stderrLower, "output file does not contain any stream") ||
		strings.Contains(stderrLower, "stream map matches no streams"):
		return &ConversionError{Input: input, Message: "input has no audio stream", Stderr: stderr, Err: ErrNoAudioStream}

	case strings.Contains(stderrLower, "no space left on device"):
		return &ConversionError{Input: input, Message: "insufficient disk space", Stderr: stderr, Err: ErrDiskFull}

	case strings.Contains(stderrLower, "permission denied"):
		return &ConversionError{Input: input, Message: "permission denied writing output", Stderr: stderr, Err: ErrConversionFailed}

	default:
		return &ConversionError{Input: input, Message: "conversion failed", Stderr: stderr, Err: errors.Join(ErrConversionFailed, err)}
	}
}
