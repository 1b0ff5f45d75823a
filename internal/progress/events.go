package progress

import (
	"time"

	"github.com/mp3forge/backend/internal/job"
)

// Event types sent to progress subscribers
const (
	EventConnected     = "connected"
	EventFileProgress  = "file_progress"
	EventFileCompleted = "file_completed"
	EventJobCompleted  = "job_completed"
	EventError         = "error"
)

// Event is one message on a job's progress feed.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`

	// File fields, set for file_progress / file_completed / error
	FileID   string  `json:"file_id,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Status   string  `json:"status,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Error    string  `json:"error,omitempty"`

	// Job aggregate fields
	JobStatus      string  `json:"job_status,omitempty"`
	JobProgress    float64 `json:"job_progress,omitempty"`
	CompletedFiles int     `json:"completed_files,omitempty"`
	FailedFiles    int     `json:"failed_files,omitempty"`
	TotalFiles     int     `json:"total_files,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// IsTerminal reports whether this event ends the feed.
func (e *Event) IsTerminal() bool {
	return e.Type == EventJobCompleted
}

// ConnectedEvent is the snapshot sent when a subscriber attaches.
func ConnectedEvent(j *job.Job) *Event {
	return &Event{
		Type:           EventConnected,
		JobID:          j.ID,
		Timestamp:      time.Now().UTC(),
		JobStatus:      j.Status,
		JobProgress:    j.Progress,
		CompletedFiles: j.CompletedFiles,
		FailedFiles:    j.FailedFiles,
		TotalFiles:     j.TotalFiles,
		Message:        j.Message,
	}
}

// FileProgressEvent reports progress on one converting file.
func FileProgressEvent(jobID string, f *job.File, jobProgress float64) *Event {
	return &Event{
		Type:        EventFileProgress,
		JobID:       jobID,
		Timestamp:   time.Now().UTC(),
		FileID:      f.ID,
		Filename:    f.Filename,
		Status:      f.Status,
		Progress:    f.Progress,
		JobProgress: jobProgress,
	}
}

// FileCompletedEvent reports one file reaching a terminal state.
func FileCompletedEvent(jobID string, f *job.File, jobProgress float64) *Event {
	return &Event{
		Type:        EventFileCompleted,
		JobID:       jobID,
		Timestamp:   time.Now().UTC(),
		FileID:      f.ID,
		Filename:    f.Filename,
		Status:      f.Status,
		Progress:    f.Progress,
		Error:       f.Error,
		JobProgress: jobProgress,
	}
}

// JobCompletedEvent is the terminal event for a job's feed.
func JobCompletedEvent(j *job.Job) *Event {
	return &Event{
		Type:           EventJobCompleted,
		JobID:          j.ID,
		Timestamp:      time.Now().UTC(),
		JobStatus:      j.Status,
		JobProgress:    j.Progress,
		CompletedFiles: j.CompletedFiles,
		FailedFiles:    j.FailedFiles,
		TotalFiles:     j.TotalFiles,
		Message:        j.Message,
	}
}

// ErrorEvent reports a failure on the feed without ending it.
func ErrorEvent(jobID, fileID, filename, message string) *Event {
	return &Event{
		Type:      EventError,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		FileID:    fileID,
		Filename:  filename,
		Error:     message,
	}
}
