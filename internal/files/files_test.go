package files

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(filepath.Join(root, "uploads"), filepath.Join(root, "converted"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestIsAllowed(t *testing.T) {
	allowed := []string{"clip.mp4", "Movie.MOV", "a.mkv", "b.webm", "c.avi", "d.m4v"}
	for _, name := range allowed {
		if !IsAllowed(name) {
			t.Errorf("IsAllowed(%q) = false, want true", name)
		}
	}

	rejected := []string{"song.mp3", "doc.pdf", "video", "clip.mp4.exe", ""}
	for _, name := range rejected {
		if IsAllowed(name) {
			t.Errorf("IsAllowed(%q) = true, want false", name)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"clip.mp4", "clip.mp4"},
		{"../../etc/passwd", "passwd"},
		{"dir/clip.mp4", "clip.mp4"},
		{"  spaced.mp4  ", "spaced.mp4"},
		{"", "upload"},
		{"..", "upload"},
		{"bad\x00name.mp4", "bad_name.mp4"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSanitizeFilenameNormalizesUnicode(t *testing.T) {
	// Decomposed e + combining acute should normalize to composed form.
	decomposed := "cafe\u0301.mp4"
	composed := "caf\u00e9.mp4"
	if got := SanitizeFilename(decomposed); got != composed {
		t.Errorf("SanitizeFilename(%q) = %q, want %q", decomposed, got, composed)
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"clip.mp4", "clip.mp3"},
		{"Movie.MOV", "Movie.mp3"},
		{"archive.tar.mkv", "archive.tar.mp3"},
	}

	for _, tt := range tests {
		if got := OutputName(tt.input); got != tt.want {
			t.Errorf("OutputName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWriteZip(t *testing.T) {
	dir := t.TempDir()
	paths := []string{}
	for _, name := range []string{"a.mp3", "b.mp3"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("audio data"), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	// A vanished file should be skipped, not fail the archive.
	paths = append(paths, filepath.Join(dir, "missing.mp3"))

	var buf bytes.Buffer
	if err := WriteZip(&buf, paths); err != nil {
		t.Fatalf("WriteZip: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	if len(reader.File) != 2 {
		t.Errorf("zip has %d entries, want 2", len(reader.File))
	}
}

func TestUsageAndCleanup(t *testing.T) {
	m := newTestManager(t)

	outDir := m.OutputDir("job-1")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "x.mp3"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}

	usage, err := m.Usage("job-1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.OutputBytes != 100 || usage.TotalBytes != 100 {
		t.Errorf("usage = %+v, want 100 output bytes", usage)
	}

	if err := m.Cleanup("job-1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("output directory should be removed")
	}

	// Usage of a cleaned job is zero, not an error.
	usage, err = m.Usage("job-1")
	if err != nil {
		t.Fatalf("Usage after cleanup: %v", err)
	}
	if usage.TotalBytes != 0 {
		t.Errorf("usage after cleanup = %d, want 0", usage.TotalBytes)
	}
}
