package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mp3forge/backend/internal/db"
	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/files"
	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/storage"
)

type FileHandlers struct {
	repo  *db.JobRepository
	fm    *files.Manager
	store *storage.Client // may be nil when no object storage is configured
}

func NewFileHandlers(repo *db.JobRepository, fm *files.Manager, store *storage.Client) *FileHandlers {
	return &FileHandlers{
		repo:  repo,
		fm:    fm,
		store: store,
	}
}

// Download handles GET /api/v1/files/download/{job_id}/{file_id}. The
// local artifact is preferred; object storage serves as fallback when
// the local copy has been cleaned up.
func (h *FileHandlers) Download(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")
	fileID := r.PathValue("file_id")

	f, err := h.repo.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, db.ErrFileNotFound) {
			return apperrors.FileNotFound(fileID)
		}
		return apperrors.DatabaseError("failed to load file").WithCause(err)
	}
	if f.JobID != jobID {
		return apperrors.FileNotFound(fileID)
	}
	if f.Status != job.FileStatusCompleted {
		return apperrors.Conflict("file is not converted yet")
	}

	if _, err := os.Stat(f.OutputPath); err == nil {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OutputName))
		http.ServeFile(w, r, f.OutputPath)
		return nil
	}

	if h.store != nil {
		obj, info, err := h.store.GetObject(r.Context(), storage.ArtifactKey(jobID, f.OutputName))
		if err == nil {
			defer obj.Close()
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OutputName))
			io.Copy(w, obj)
			return nil
		}
	}

	return apperrors.FileNotFound(f.OutputName)
}

// DownloadZip handles GET /api/v1/files/download-zip/{job_id},
// streaming every converted file of the job as one archive.
func (h *FileHandlers) DownloadZip(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	j, err := h.repo.GetJobWithFiles(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	var paths []string
	for _, f := range j.Files {
		if f.Status == job.FileStatusCompleted {
			paths = append(paths, f.OutputPath)
		}
	}
	if len(paths) == 0 {
		return apperrors.Conflict("job has no converted files")
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".zip"))

	if err := files.WriteZip(w, paths); err != nil {
		// Headers are already sent; nothing useful to return.
		return nil
	}
	return nil
}

// DiskUsage handles GET /api/v1/files/disk-usage/{job_id}
func (h *FileHandlers) DiskUsage(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	if _, err := h.repo.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	usage, err := h.fm.Usage(jobID)
	if err != nil {
		return apperrors.IOFailure("failed to measure disk usage").WithCause(err)
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, usage)
	return nil
}

// Cleanup handles DELETE /api/v1/files/cleanup/{job_id}, removing the
// job's local files while keeping its database records.
func (h *FileHandlers) Cleanup(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	j, err := h.repo.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}
	if j.IsActive() {
		return apperrors.Conflict("job is still running")
	}

	if err := h.fm.Cleanup(jobID); err != nil {
		return apperrors.IOFailure("failed to remove job files").WithCause(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
