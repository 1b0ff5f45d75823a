package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mp3forge/backend/internal/convert"
	"github.com/mp3forge/backend/internal/db"
	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/files"
	"github.com/mp3forge/backend/internal/job"
)

// Upload bodies larger than this are rejected up front.
const maxUploadMemory = 32 << 20 // 32 MB held in memory, rest spills to disk

var validBitrates = map[string]bool{
	"128k": true,
	"192k": true,
	"256k": true,
	"320k": true,
}

var validSampleRates = map[int]bool{
	22050: true,
	44100: true,
	48000: true,
}

type ConversionHandlers struct {
	repo     *db.JobRepository
	svc      *convert.Service
	fm       *files.Manager
	maxFiles int
}

func NewConversionHandlers(repo *db.JobRepository, svc *convert.Service, fm *files.Manager, maxFiles int) *ConversionHandlers {
	if maxFiles <= 0 {
		maxFiles = 50
	}
	return &ConversionHandlers{
		repo:     repo,
		svc:      svc,
		fm:       fm,
		maxFiles: maxFiles,
	}
}

// Upload handles POST /api/v1/files/upload. It accepts multipart
// video uploads and creates a queued job.
func (h *ConversionHandlers) Upload(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return apperrors.BadRequest("invalid multipart request")
	}
	defer r.MultipartForm.RemoveAll()

	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		return apperrors.ValidationError("no files provided")
	}
	if len(uploads) > h.maxFiles {
		return apperrors.ValidationError("too many files").WithDetails(map[string]any{
			"max_files": h.maxFiles,
			"received":  len(uploads),
		})
	}

	cfg, err := parseJobConfig(r)
	if err != nil {
		return err
	}

	// Reject the whole batch before writing anything to disk.
	for _, header := range uploads {
		if !files.IsAllowed(header.Filename) {
			return apperrors.UnsupportedFile(header.Filename)
		}
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:         uuid.New().String(),
		Status:     job.StatusQueued,
		TotalFiles: len(uploads),
		Config:     cfg,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, header := range uploads {
		inputPath, err := h.fm.SaveUpload(j.ID, header)
		if err != nil {
			h.fm.Cleanup(j.ID)
			return err
		}

		filename := files.SanitizeFilename(header.Filename)
		outputName := files.OutputName(filename)
		j.Files = append(j.Files, &job.File{
			ID:         uuid.New().String(),
			JobID:      j.ID,
			Filename:   filename,
			InputPath:  inputPath,
			OutputPath: h.fm.OutputPath(j.ID, outputName),
			OutputName: outputName,
			Status:     job.FileStatusPending,
			CreatedAt:  now,
		})
	}

	if err := h.repo.CreateJobWithFiles(r.Context(), j); err != nil {
		h.fm.Cleanup(j.ID)
		return apperrors.DatabaseError("failed to create job").WithCause(err)
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusCreated, j)
	return nil
}

// Start handles POST /api/v1/convert/start/{job_id}
func (h *ConversionHandlers) Start(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		return apperrors.BadRequest("invalid job id")
	}

	if err := h.svc.Start(r.Context(), jobID); err != nil {
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": job.StatusProcessing,
	})
	return nil
}

// Status handles GET /api/v1/convert/status/{job_id}
func (h *ConversionHandlers) Status(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	j, err := h.repo.GetJobWithFiles(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, j)
	return nil
}

// List handles GET /api/v1/jobs
func (h *ConversionHandlers) List(w http.ResponseWriter, r *http.Request) error {
	status := r.URL.Query().Get("status")
	if status != "" {
		switch status {
		case job.StatusQueued, job.StatusProcessing, job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		default:
			return apperrors.ValidationError("unknown status filter")
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := h.repo.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		return apperrors.DatabaseError("failed to list jobs").WithCause(err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": total,
	})
	return nil
}

// Cancel handles POST /api/v1/convert/cancel/{job_id}
func (h *ConversionHandlers) Cancel(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	if err := h.svc.Cancel(r.Context(), jobID); err != nil {
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": job.StatusCancelled,
	})
	return nil
}

// Delete handles DELETE /api/v1/jobs/{job_id}. Running jobs must be
// cancelled first.
func (h *ConversionHandlers) Delete(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")

	if h.svc.IsActive(jobID) {
		return apperrors.Conflict("job is running, cancel it first")
	}

	if err := h.repo.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to delete job").WithCause(err)
	}

	if err := h.fm.Cleanup(jobID); err != nil {
		return apperrors.IOFailure("failed to remove job files").WithCause(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// parseJobConfig reads encoding settings from the upload form.
func parseJobConfig(r *http.Request) (job.Config, error) {
	cfg := job.DefaultConfig()

	if bitrate := r.FormValue("bitrate"); bitrate != "" {
		if !validBitrates[bitrate] {
			return cfg, apperrors.ValidationError("unsupported bitrate")
		}
		cfg.Bitrate = bitrate
	}

	if raw := r.FormValue("sample_rate"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil || !validSampleRates[rate] {
			return cfg, apperrors.ValidationError("unsupported sample rate")
		}
		cfg.SampleRate = rate
	}

	if raw := r.FormValue("preserve_metadata"); raw != "" {
		preserve, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, apperrors.ValidationError("preserve_metadata must be a boolean")
		}
		cfg.PreserveMetadata = preserve
	}

	if policy := r.FormValue("failure_policy"); policy != "" {
		if policy != job.PolicyContinue && policy != job.PolicyFailFast {
			return cfg, apperrors.ValidationError("failure_policy must be continue or fail_fast")
		}
		cfg.FailurePolicy = policy
	}

	return cfg, nil
}
