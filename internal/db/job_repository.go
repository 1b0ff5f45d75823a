package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mp3forge/backend/internal/job"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrFileNotFound = errors.New("job file not found")
)

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, status, progress, total_files, completed_files, failed_files, message,
	bitrate, sample_rate, preserve_metadata, failure_policy,
	created_at, updated_at, started_at, completed_at
`

const fileColumns = `
	id, job_id, filename, input_path, output_path, output_name,
	status, progress, error, output_size, duration_sec, created_at, completed_at
`

// CreateJobWithFiles inserts a job and its file rows in one transaction.
func (r *JobRepository) CreateJobWithFiles(ctx context.Context, j *job.Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, total_files, message,
			bitrate, sample_rate, preserve_metadata, failure_policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, j.ID, j.Status, j.Progress, j.TotalFiles, j.Message,
		j.Config.Bitrate, j.Config.SampleRate, j.Config.PreserveMetadata,
		j.Config.FailurePolicy, j.CreatedAt)
	if err != nil {
		return err
	}

	for _, f := range j.Files {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_files (id, job_id, filename, input_path, output_path,
				output_name, status, progress, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, f.ID, f.JobID, f.Filename, f.InputPath, f.OutputPath,
			f.OutputName, f.Status, f.Progress, f.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanJob(row interface{ Scan(...interface{}) error }) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.Status, &j.Progress, &j.TotalFiles, &j.CompletedFiles,
		&j.FailedFiles, &j.Message,
		&j.Config.Bitrate, &j.Config.SampleRate, &j.Config.PreserveMetadata,
		&j.Config.FailurePolicy,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job without its file rows.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

// GetJobWithFiles retrieves a job and its file rows in input order.
func (r *JobRepository) GetJobWithFiles(ctx context.Context, id string) (*job.Job, error) {
	j, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM job_files WHERE job_id = $1 ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f job.File
		err := rows.Scan(
			&f.ID, &f.JobID, &f.Filename, &f.InputPath, &f.OutputPath, &f.OutputName,
			&f.Status, &f.Progress, &f.Error, &f.OutputSize, &f.DurationSec,
			&f.CreatedAt, &f.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		j.Files = append(j.Files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return j, nil
}

// GetFile retrieves a single file row.
func (r *JobRepository) GetFile(ctx context.Context, fileID string) (*job.File, error) {
	var f job.File
	err := r.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM job_files WHERE id = $1
	`, fileID).Scan(
		&f.ID, &f.JobID, &f.Filename, &f.InputPath, &f.OutputPath, &f.OutputName,
		&f.Status, &f.Progress, &f.Error, &f.OutputSize, &f.DurationSec,
		&f.CreatedAt, &f.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (r *JobRepository) ListJobs(ctx context.Context, status string, limit, offset int) ([]*job.Job, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var total int
	var rows *sql.Rows
	var err error

	if status != "" {
		if err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE status = $1`, status).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE status = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, status, limit, offset)
	} else {
		if err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			ORDER BY created_at DESC LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// UpdateJobStatus transitions a job and stamps the matching timestamp.
func (r *JobRepository) UpdateJobStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UTC()

	var result sql.Result
	var err error

	switch status {
	case job.StatusProcessing:
		result, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = $2, message = $3, started_at = $4, updated_at = $4
			WHERE id = $1
		`, id, status, message, now)
	case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		result, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = $2, message = $3, completed_at = $4, updated_at = $4
			WHERE id = $1
		`, id, status, message, now)
	default:
		result, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = $2, message = $3, updated_at = $4
			WHERE id = $1
		`, id, status, message, now)
	}
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// UpdateJobProgress updates the aggregate progress and counters.
func (r *JobRepository) UpdateJobProgress(ctx context.Context, id string, progress float64, completedFiles, failedFiles int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = $2, completed_files = $3, failed_files = $4, updated_at = $5
		WHERE id = $1
	`, id, progress, completedFiles, failedFiles, time.Now().UTC())
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// UpdateFileProgress updates a file row's progress while converting.
func (r *JobRepository) UpdateFileProgress(ctx context.Context, fileID string, status string, progress float64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE job_files SET status = $2, progress = $3 WHERE id = $1
	`, fileID, status, progress)
	if err != nil {
		return err
	}
	return checkFileAffected(result)
}

// UpdateFileResult records the terminal state of a file conversion.
func (r *JobRepository) UpdateFileResult(ctx context.Context, f *job.File) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE job_files
		SET status = $2, progress = $3, error = $4, output_path = $5,
			output_name = $6, output_size = $7, duration_sec = $8, completed_at = $9
		WHERE id = $1
	`, f.ID, f.Status, f.Progress, f.Error, f.OutputPath,
		f.OutputName, f.OutputSize, f.DurationSec, f.CompletedAt)
	if err != nil {
		return err
	}
	return checkFileAffected(result)
}

// DeleteJob removes a job; file rows cascade.
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// DeleteJobsOlderThan removes terminal jobs created before the cutoff
// and returns their IDs so callers can clean up artifacts.
func (r *JobRepository) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		DELETE FROM jobs
		WHERE created_at < $1
		  AND status IN ($2, $3, $4)
		RETURNING id
	`, cutoff, job.StatusCompleted, job.StatusFailed, job.StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func checkFileAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}
