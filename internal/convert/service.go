package convert

import (
	"context"
	"errors"
	"time"

	"github.com/mp3forge/backend/internal/db"
	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/logger"
)

// Repo is the repository surface the service needs on top of the
// scheduler's Store.
type Repo interface {
	Store
	GetJob(ctx context.Context, id string) (*job.Job, error)
	GetJobWithFiles(ctx context.Context, id string) (*job.Job, error)
}

// Service starts and cancels conversion jobs. A job runs in the
// background, detached from the request that started it.
type Service struct {
	repo      Repo
	scheduler *Scheduler
	registry  *job.Registry
	timeout   time.Duration
	log       *logger.Logger
}

// NewService creates a conversion service. Jobs that run longer than
// timeout are cancelled.
func NewService(repo Repo, scheduler *Scheduler, registry *job.Registry, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		registry:  registry,
		timeout:   timeout,
		log:       logger.Default().WithComponent("convert"),
	}
}

// Start launches a queued job. It returns immediately once the job is
// dispatched; progress is observed through the feed.
func (s *Service) Start(ctx context.Context, jobID string) error {
	j, err := s.repo.GetJobWithFiles(ctx, jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	if j.Status != job.StatusQueued {
		return apperrors.JobAlreadyStarted(j.Status)
	}

	// The run outlives the HTTP request.
	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	if !s.registry.Add(jobID, cancel) {
		cancel()
		return apperrors.JobAlreadyStarted(job.StatusProcessing)
	}

	s.log.Info(ctx, "job started", map[string]interface{}{
		"job_id":      jobID,
		"total_files": j.TotalFiles,
		"policy":      j.Config.FailurePolicy,
	})

	go func() {
		defer cancel()
		defer s.registry.Remove(jobID)
		s.scheduler.Run(runCtx, j)
	}()

	return nil
}

// Cancel stops a running job. Cancelling a job that is not active
// returns JobNotActive.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, db.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.DatabaseError("failed to load job").WithCause(err)
	}

	if !s.registry.Cancel(jobID) {
		return apperrors.JobNotActive(jobID)
	}

	s.log.Info(ctx, "job cancelled", map[string]interface{}{"job_id": jobID})
	return nil
}

// IsActive reports whether a job is currently running.
func (s *Service) IsActive(jobID string) bool {
	return s.registry.IsActive(jobID)
}

// Shutdown cancels every running job.
func (s *Service) Shutdown() {
	s.registry.CancelAll()
}
