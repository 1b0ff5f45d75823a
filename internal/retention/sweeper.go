package retention

import (
	"context"
	"time"

	"github.com/mp3forge/backend/internal/logger"
)

// Store deletes expired job records and reports which jobs went away.
type Store interface {
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// FileCleaner removes a job's local files.
type FileCleaner interface {
	Cleanup(jobID string) error
}

// ArtifactRemover removes a job's objects from object storage.
type ArtifactRemover interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Sweeper periodically deletes terminal jobs older than the retention
// window, together with their files and stored artifacts.
type Sweeper struct {
	store     Store
	files     FileCleaner
	artifacts ArtifactRemover // may be nil
	maxAge    time.Duration
	interval  time.Duration
	log       *logger.Logger
}

// NewSweeper creates a sweeper. artifacts may be nil when no object
// storage is configured.
func NewSweeper(store Store, files FileCleaner, artifacts ArtifactRemover, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		files:     files,
		artifacts: artifacts,
		maxAge:    maxAge,
		interval:  time.Hour,
		log:       logger.Default().WithComponent("retention"),
	}
}

// Run sweeps on a timer until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.maxAge); err != nil {
				s.log.Error(ctx, "retention sweep failed", err)
			}
		}
	}
}

// Sweep deletes terminal jobs older than maxAge and returns how many
// were removed. Callers can pass a different age for on-demand sweeps.
func (s *Sweeper) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	ids, err := s.store.DeleteJobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.files.Cleanup(id); err != nil {
			s.log.Warn(ctx, "failed to remove job files", map[string]interface{}{
				"job_id": id,
				"error":  err.Error(),
			})
		}
		if s.artifacts != nil {
			if err := s.artifacts.DeletePrefix(ctx, "jobs/"+id+"/"); err != nil {
				s.log.Warn(ctx, "failed to remove job artifacts", map[string]interface{}{
					"job_id": id,
					"error":  err.Error(),
				})
			}
		}
	}

	if len(ids) > 0 {
		s.log.Info(ctx, "retention sweep removed jobs", map[string]interface{}{
			"count":  len(ids),
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}

	return len(ids), nil
}
