package media

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	s := &Service{cfg: DefaultConfig()}

	tests := []struct {
		name     string
		opts     ExtractOptions
		contains []string
		excludes []string
	}{
		{
			name:     "defaults",
			opts:     ExtractOptions{},
			contains: []string{"-vn", "-acodec libmp3lame", "-b:a 192k", "-progress pipe:1", "-nostats"},
			excludes: []string{"-ar", "-map_metadata"},
		},
		{
			name:     "custom bitrate",
			opts:     ExtractOptions{Bitrate: "320k"},
			contains: []string{"-b:a 320k"},
		},
		{
			name:     "sample rate",
			opts:     ExtractOptions{SampleRate: 44100},
			contains: []string{"-ar 44100"},
		},
		{
			name:     "preserve metadata",
			opts:     ExtractOptions{PreserveMetadata: true},
			contains: []string{"-map_metadata 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := strings.Join(s.buildArgs("in.mp4", "out.mp3", tt.opts), " ")
			for _, want := range tt.contains {
				if !strings.Contains(args, want) {
					t.Errorf("args %q missing %q", args, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(args, unwanted) {
					t.Errorf("args %q should not contain %q", args, unwanted)
				}
			}
		})
	}
}

func TestBuildArgsOrder(t *testing.T) {
	s := &Service{cfg: DefaultConfig()}
	args := s.buildArgs("in.mp4", "out.mp3", ExtractOptions{})

	if args[0] != "-y" {
		t.Errorf("first arg = %q, want -y", args[0])
	}
	if args[len(args)-1] != "out.mp3" {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{
			name:   "invalid data",
			stderr: "in.mp4: Invalid data found when processing input",
			want:   ErrInvalidInput,
		},
		{
			name:   "truncated mp4",
			stderr: "[mov,mp4,m4a] moov atom not found",
			want:   ErrInvalidInput,
		},
		{
			name:   "missing input",
			stderr: "in.mp4: No such file or directory",
			want:   ErrInputNotFound,
		},
		{
			name:   "no audio",
			stderr: "Output file does not contain any stream",
			want:   ErrNoAudioStream,
		},
		{
			name:   "disk full",
			stderr: "av_interleaved_write_frame(): No space left on device",
			want:   ErrDiskFull,
		},
		{
			name:   "generic failure",
			stderr: "Error while decoding stream #0:1",
			want:   ErrConversionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := categorizeError("in.mp4", errors.New("exit status 1"), tt.stderr)
			if !errors.Is(err, tt.want) {
				t.Errorf("categorizeError(%q) = %v, want %v", tt.stderr, err, tt.want)
			}

			var convErr *ConversionError
			if !errors.As(err, &convErr) {
				t.Fatal("expected a *ConversionError")
			}
			if convErr.Stderr != tt.stderr {
				t.Errorf("stderr not captured")
			}
		})
	}
}

func TestStderrExcerpt(t *testing.T) {
	lines := []string{"line1", "line2", "line3", "line4", "line5"}
	err := &ConversionError{Stderr: strings.Join(lines, "\n")}

	excerpt := err.StderrExcerpt(2)
	if excerpt != "line4\nline5" {
		t.Errorf("excerpt = %q, want last two lines", excerpt)
	}

	excerpt = err.StderrExcerpt(10)
	if excerpt != strings.Join(lines, "\n") {
		t.Errorf("excerpt = %q, want all lines", excerpt)
	}
}
