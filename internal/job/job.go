package job

import (
	"time"
)

// Job status constants representing the job lifecycle
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// File status constants for individual conversion tasks
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
)

// Failure policies controlling how a job reacts to a failed file
const (
	PolicyContinue = "continue"
	PolicyFailFast = "fail_fast"
)

// Config holds the per-job encoding settings.
type Config struct {
	Bitrate          string `json:"bitrate"`
	SampleRate       int    `json:"sample_rate,omitempty"`
	PreserveMetadata bool   `json:"preserve_metadata"`
	FailurePolicy    string `json:"failure_policy"`
}

// DefaultConfig returns the encoding settings used when a request
// leaves them unset.
func DefaultConfig() Config {
	return Config{
		Bitrate:          "192k",
		PreserveMetadata: true,
		FailurePolicy:    PolicyContinue,
	}
}

// Normalize fills in defaults for zero-value fields.
func (c *Config) Normalize() {
	if c.Bitrate == "" {
		c.Bitrate = "192k"
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicyContinue
	}
}

// Job represents a batch conversion request
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	TotalFiles     int        `json:"total_files"`
	CompletedFiles int        `json:"completed_files"`
	FailedFiles    int        `json:"failed_files"`
	Message        string     `json:"message,omitempty"`
	Config         Config     `json:"config"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Files          []*File    `json:"files,omitempty"`
}

// File represents one input file within a job
type File struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	Filename    string     `json:"filename"`
	InputPath   string     `json:"-"`
	OutputPath  string     `json:"-"`
	OutputName  string     `json:"output_name,omitempty"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	OutputSize  int64      `json:"output_size,omitempty"`
	DurationSec float64    `json:"duration_sec,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// IsActive returns true while the job is queued or converting
func (j *Job) IsActive() bool {
	return j.Status == StatusQueued || j.Status == StatusProcessing
}

// HasErrors reports whether any file in the job failed.
func (j *Job) HasErrors() bool {
	return j.FailedFiles > 0
}

// IsTerminal returns true once the file will not change state again
func (f *File) IsTerminal() bool {
	return f.Status == FileStatusCompleted || f.Status == FileStatusFailed
}

// OverallProgress is the unweighted mean of per-file progress.
// Completed files count as 1.0; failed files hold their last
// reported value. Returns 0 for an empty file list.
func OverallProgress(files []*File) float64 {
	if len(files) == 0 {
		return 0
	}
	var sum float64
	for _, f := range files {
		switch f.Status {
		case FileStatusCompleted:
			sum += 1.0
		default:
			p := f.Progress
			if p < 0 {
				p = 0
			}
			if p > 1 {
				p = 1
			}
			sum += p
		}
	}
	return sum / float64(len(files))
}
