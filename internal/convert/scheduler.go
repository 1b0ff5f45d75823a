package convert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/logger"
	"github.com/mp3forge/backend/internal/media"
	"github.com/mp3forge/backend/internal/metrics"
	"github.com/mp3forge/backend/internal/progress"
)

// Persisted progress updates are throttled; a file's stored value
// only moves on a change of at least this much, or near completion.
const progressWriteDelta = 0.05

// defaultTaskTimeout bounds a single file's conversion.
const defaultTaskTimeout = time.Hour

// Store is the persistence surface the scheduler writes through.
type Store interface {
	UpdateJobStatus(ctx context.Context, id, status, message string) error
	UpdateJobProgress(ctx context.Context, id string, progress float64, completedFiles, failedFiles int) error
	UpdateFileProgress(ctx context.Context, fileID, status string, progress float64) error
	UpdateFileResult(ctx context.Context, f *job.File) error
}

// EventSink receives a mirror of every published event, used to relay
// feeds across instances.
type EventSink interface {
	Publish(ctx context.Context, e *progress.Event) error
}

// Scheduler runs the files of one job through a bounded worker pool.
// All job and file mutations happen on the coordinator goroutine; the
// workers only convert and report.
type Scheduler struct {
	extractor media.Extractor
	store     Store
	pub       *progress.Publisher
	sink      EventSink
	workers   int
	log       *logger.Logger
	metrics   *metrics.Metrics
	archiver  Archiver

	taskTimeout time.Duration
}

// SetTaskTimeout bounds each file's conversion wall clock. Zero keeps
// the default of one hour.
func (s *Scheduler) SetTaskTimeout(d time.Duration) {
	if d > 0 {
		s.taskTimeout = d
	}
}

// SetArchiver enables mirroring converted files to object storage.
// Archive failures never fail a conversion.
func (s *Scheduler) SetArchiver(a Archiver) {
	s.archiver = a
}

// NewScheduler creates a scheduler running at most workers conversions
// at once. The sink may be nil.
func NewScheduler(extractor media.Extractor, store Store, pub *progress.Publisher, sink EventSink, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		extractor:   extractor,
		store:       store,
		pub:         pub,
		sink:        sink,
		workers:     workers,
		log:         logger.Default().WithComponent("scheduler"),
		metrics:     metrics.Default(),
		taskTimeout: defaultTaskTimeout,
	}
}

// taskUpdate is one message from a worker to the coordinator.
type taskUpdate struct {
	index    int
	started  bool
	fraction float64 // valid when !started && !done
	done     bool
	outcome  *media.Outcome
	err      error
}

// Run converts every file of the job and returns when the job is
// terminal. The passed context cancels the whole job.
func (s *Scheduler) Run(ctx context.Context, j *job.Job) {
	j.Config.Normalize()

	if len(j.Files) == 0 {
		s.metrics.JobStarted()
		s.finish(ctx, j, job.StatusFailed, "no input files")
		return
	}

	if err := s.store.UpdateJobStatus(ctx, j.ID, job.StatusProcessing, ""); err != nil {
		s.log.Error(ctx, "failed to mark job processing", err, map[string]interface{}{"job_id": j.ID})
	}
	now := time.Now().UTC()
	j.Status = job.StatusProcessing
	j.StartedAt = &now
	s.metrics.JobStarted()

	// dispatchCtx only gates the dispatch loop. A fail-fast abort stops
	// new files from starting while in-flight conversions finish
	// naturally on ctx; only cancellation or timeout kills them.
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	updates := make(chan taskUpdate, 64)
	// Slots are released by the coordinator once it has applied a
	// file's result, so an abort always lands before the next
	// dispatch can proceed.
	sem := make(chan struct{}, s.workers)

	// The dispatcher owns the update channel: every Add happens on
	// this goroutine before the Wait, and the channel closes only
	// after the last worker it started has reported.
	go func() {
		var wg sync.WaitGroup
		for i := range j.Files {
			select {
			case <-dispatchCtx.Done():
			case sem <- struct{}{}:
			}
			if dispatchCtx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				s.runFile(ctx, j, index, updates)
			}(i)
		}
		wg.Wait()
		close(updates)
	}()

	// Bookkeeping must outlive cancellation: a cancelled job still has
	// its terminal state persisted and published.
	s.coordinate(context.WithoutCancel(ctx), ctx, stopDispatch, j, updates, sem)
}

// runFile converts a single file and streams updates back.
func (s *Scheduler) runFile(ctx context.Context, j *job.Job, index int, updates chan<- taskUpdate) {
	f := j.Files[index]

	updates <- taskUpdate{index: index, started: true}

	start := time.Now()
	s.metrics.ConversionStarted()

	opts := media.ExtractOptions{
		Bitrate:          j.Config.Bitrate,
		SampleRate:       j.Config.SampleRate,
		PreserveMetadata: j.Config.PreserveMetadata,
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	outcome, err := s.extractor.Extract(taskCtx, f.InputPath, f.OutputPath, opts, func(u media.ProgressUpdate) {
		if u.Fraction >= 0 {
			updates <- taskUpdate{index: index, fraction: u.Fraction}
		}
	})
	cancel()

	// A per-file deadline that fired while the job itself is still
	// live is a tool failure, not a cancellation.
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("conversion timed out after %s", s.taskTimeout)
	}

	s.metrics.ConversionFinished(err == nil, time.Since(start))

	if err == nil && s.archiver != nil {
		if archiveErr := s.archiver.ArchiveFile(ctx, j.ID, f); archiveErr != nil {
			s.log.Warn(ctx, "failed to archive converted file", map[string]interface{}{
				"job_id":  j.ID,
				"file_id": f.ID,
				"error":   archiveErr.Error(),
			})
		}
	}

	updates <- taskUpdate{index: index, done: true, outcome: outcome, err: err}
}

// coordinate is the single writer for the job aggregate. It consumes
// worker updates until every dispatched file has reported a result.
func (s *Scheduler) coordinate(ctx, runCtx context.Context, stopDispatch context.CancelFunc, j *job.Job, updates <-chan taskUpdate, sem <-chan struct{}) {
	failFast := j.Config.FailurePolicy == job.PolicyFailFast
	aborted := false
	lastWritten := make([]float64, len(j.Files))
	lastJobWritten := 0.0

	for u := range updates {
		f := j.Files[u.index]

		switch {
		case u.started:
			f.Status = job.FileStatusProcessing
			if err := s.store.UpdateFileProgress(ctx, f.ID, f.Status, f.Progress); err != nil {
				s.log.Error(ctx, "failed to persist file start", err, map[string]interface{}{"file_id": f.ID})
			}
			s.publish(ctx, progress.FileProgressEvent(j.ID, f, j.Progress))

		case u.done:
			s.applyResult(ctx, j, f, u)
			if u.err != nil && failFast && !aborted {
				aborted = true
				stopDispatch()
			}
			<-sem
			j.Progress = job.OverallProgress(j.Files)
			if err := s.store.UpdateJobProgress(ctx, j.ID, j.Progress, j.CompletedFiles, j.FailedFiles); err != nil {
				s.log.Error(ctx, "failed to persist job progress", err, map[string]interface{}{"job_id": j.ID})
			}
			lastJobWritten = j.Progress
			s.publish(ctx, progress.FileCompletedEvent(j.ID, f, j.Progress))

		default:
			// Progress never moves backwards.
			if u.fraction <= f.Progress {
				continue
			}
			f.Progress = u.fraction
			j.Progress = job.OverallProgress(j.Files)

			if u.fraction-lastWritten[u.index] >= progressWriteDelta || u.fraction >= 0.99 {
				lastWritten[u.index] = u.fraction
				if err := s.store.UpdateFileProgress(ctx, f.ID, f.Status, f.Progress); err != nil {
					s.log.Error(ctx, "failed to persist file progress", err, map[string]interface{}{"file_id": f.ID})
				}
			}
			if j.Progress-lastJobWritten >= progressWriteDelta || j.Progress >= 0.99 {
				lastJobWritten = j.Progress
				if err := s.store.UpdateJobProgress(ctx, j.ID, j.Progress, j.CompletedFiles, j.FailedFiles); err != nil {
					s.log.Error(ctx, "failed to persist job progress", err, map[string]interface{}{"job_id": j.ID})
				}
			}

			s.publish(ctx, progress.FileProgressEvent(j.ID, f, j.Progress))
		}
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancelled := runCtx.Err() != nil && !timedOut && !aborted

	s.settleUndispatched(ctx, j, aborted, timedOut)

	status, message := s.finalStatus(j, cancelled, timedOut, aborted)
	s.finish(ctx, j, status, message)
}

// applyResult moves one file into its terminal state.
func (s *Scheduler) applyResult(ctx context.Context, j *job.Job, f *job.File, u taskUpdate) {
	now := time.Now().UTC()
	f.CompletedAt = &now

	if u.err == nil {
		f.Status = job.FileStatusCompleted
		f.Progress = 1.0
		f.OutputSize = u.outcome.OutputSize
		f.DurationSec = u.outcome.SourceDuration.Seconds()
		j.CompletedFiles++
	} else {
		f.Status = job.FileStatusFailed
		f.Error = failureMessage(u.err)
		j.FailedFiles++
		s.publish(ctx, progress.ErrorEvent(j.ID, f.ID, f.Filename, f.Error))
	}

	if err := s.store.UpdateFileResult(ctx, f); err != nil {
		s.log.Error(ctx, "failed to persist file result", err, map[string]interface{}{"file_id": f.ID})
	}
}

// settleUndispatched resolves files that never produced a result
// because the job was aborted, cancelled or timed out first. Every
// file is terminal afterwards, so completed+failed reaches the total.
func (s *Scheduler) settleUndispatched(ctx context.Context, j *job.Job, aborted, timedOut bool) {
	for _, f := range j.Files {
		if f.IsTerminal() {
			continue
		}

		now := time.Now().UTC()
		f.CompletedAt = &now
		f.Status = job.FileStatusFailed
		switch {
		case aborted:
			f.Error = "skipped after earlier failure"
		case timedOut:
			f.Error = "timed out"
		default:
			f.Error = "cancelled"
		}
		j.FailedFiles++
		if err := s.store.UpdateFileResult(ctx, f); err != nil {
			s.log.Error(ctx, "failed to persist skipped file", err, map[string]interface{}{"file_id": f.ID})
		}
	}
}

// finalStatus derives the job's terminal state from its files.
func (s *Scheduler) finalStatus(j *job.Job, cancelled, timedOut, aborted bool) (string, string) {
	switch {
	case cancelled:
		return job.StatusCancelled, "cancelled"
	case aborted:
		return job.StatusFailed, fmt.Sprintf("stopped after failure: %d of %d files failed", j.FailedFiles, j.TotalFiles)
	case timedOut:
		return job.StatusFailed, "timed out"
	case j.FailedFiles == len(j.Files):
		return job.StatusFailed, "all files failed"
	case j.FailedFiles > 0:
		return job.StatusCompleted, fmt.Sprintf("completed with %d error(s)", j.FailedFiles)
	default:
		return job.StatusCompleted, ""
	}
}

// finish records the terminal state and ends the progress feed.
func (s *Scheduler) finish(ctx context.Context, j *job.Job, status, message string) {
	now := time.Now().UTC()
	j.Status = status
	j.Message = message
	j.CompletedAt = &now
	j.Progress = job.OverallProgress(j.Files)

	if err := s.store.UpdateJobProgress(ctx, j.ID, j.Progress, j.CompletedFiles, j.FailedFiles); err != nil {
		s.log.Error(ctx, "failed to persist final progress", err, map[string]interface{}{"job_id": j.ID})
	}
	if err := s.store.UpdateJobStatus(ctx, j.ID, status, message); err != nil {
		s.log.Error(ctx, "failed to persist final status", err, map[string]interface{}{"job_id": j.ID})
	}

	s.publish(ctx, progress.JobCompletedEvent(j))
	s.metrics.JobFinished(status)

	s.log.Info(ctx, "job finished", map[string]interface{}{
		"job_id":          j.ID,
		"status":          status,
		"completed_files": j.CompletedFiles,
		"failed_files":    j.FailedFiles,
	})
}

// publish fans an event out locally and mirrors it to the sink.
func (s *Scheduler) publish(ctx context.Context, e *progress.Event) {
	s.pub.Publish(e.JobID, e)
	if s.sink != nil {
		if err := s.sink.Publish(ctx, e); err != nil {
			s.log.Warn(ctx, "failed to relay event", map[string]interface{}{
				"job_id": e.JobID,
				"error":  err.Error(),
			})
		}
	}
}

// failureMessage renders a worker error for storage and the feed.
func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}

	var convErr *media.ConversionError
	if errors.As(err, &convErr) {
		msg := convErr.Message
		if excerpt := convErr.StderrExcerpt(3); excerpt != "" {
			msg = msg + ": " + excerpt
		}
		return msg
	}
	return err.Error()
}
