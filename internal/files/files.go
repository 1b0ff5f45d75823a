package files

import (
	"archive/zip"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/mp3forge/backend/internal/errors"
)

// Containers accepted for upload. Anything else is rejected before a
// job is created.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// Manager owns the on-disk layout: one upload and one output
// directory per job.
type Manager struct {
	uploadDir string
	outputDir string
}

// NewManager creates the root directories if needed.
func NewManager(uploadDir, outputDir string) (*Manager, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Manager{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// IsAllowed reports whether the filename's extension is convertible.
func IsAllowed(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SanitizeFilename normalizes a client-supplied filename to NFC and
// strips anything that could escape the job directory.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = filepath.Base(name)
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	name = b.String()

	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}

// OutputName derives the MP3 filename for an input file.
func OutputName(inputName string) string {
	ext := filepath.Ext(inputName)
	return strings.TrimSuffix(inputName, ext) + ".mp3"
}

// UploadDir returns the upload directory for a job.
func (m *Manager) UploadDir(jobID string) string {
	return filepath.Join(m.uploadDir, jobID)
}

// OutputDir returns the converted-output directory for a job.
func (m *Manager) OutputDir(jobID string) string {
	return filepath.Join(m.outputDir, jobID)
}

// OutputPath returns where a converted file is written.
func (m *Manager) OutputPath(jobID, outputName string) string {
	return filepath.Join(m.OutputDir(jobID), outputName)
}

// SaveUpload streams one multipart file into the job's upload
// directory and returns its path. Duplicate names are suffixed.
func (m *Manager) SaveUpload(jobID string, header *multipart.FileHeader) (string, error) {
	name := SanitizeFilename(header.Filename)
	if !IsAllowed(name) {
		return "", apperrors.UnsupportedFile(header.Filename)
	}

	dir := m.UploadDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.IOFailure("failed to create upload directory").WithCause(err)
	}

	dst := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(name)
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), i, ext))
	}

	src, err := header.Open()
	if err != nil {
		return "", apperrors.IOFailure("failed to open uploaded file").WithCause(err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", apperrors.IOFailure("failed to create upload file").WithCause(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dst)
		return "", apperrors.IOFailure("failed to write uploaded file").WithCause(err)
	}

	return dst, nil
}

// WriteZip streams a zip of the given files to w. Paths that no
// longer exist are skipped.
func WriteZip(w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		entry, err := zw.Create(filepath.Base(path))
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to add zip entry: %w", err)
		}
		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write zip entry: %w", err)
		}
		f.Close()
	}

	return nil
}

// DiskUsage sums the bytes a job occupies on disk.
type DiskUsage struct {
	UploadBytes int64 `json:"upload_bytes"`
	OutputBytes int64 `json:"output_bytes"`
	TotalBytes  int64 `json:"total_bytes"`
}

// Usage reports a job's disk footprint.
func (m *Manager) Usage(jobID string) (*DiskUsage, error) {
	upload, err := dirSize(m.UploadDir(jobID))
	if err != nil {
		return nil, err
	}
	output, err := dirSize(m.OutputDir(jobID))
	if err != nil {
		return nil, err
	}
	return &DiskUsage{
		UploadBytes: upload,
		OutputBytes: output,
		TotalBytes:  upload + output,
	}, nil
}

// Cleanup removes everything a job wrote to disk.
func (m *Manager) Cleanup(jobID string) error {
	var firstErr error
	for _, dir := range []string{m.UploadDir(jobID), m.OutputDir(jobID)} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
