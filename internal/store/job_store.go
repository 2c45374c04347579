package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// JobStore persists the follow-up queue used to retry non-critical
// reconciliation steps.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

const jobColumns = `id, job_type, payload, status, attempts, max_attempts, run_at,
       last_error, worker_id, created_at, updated_at, completed_at`

// Enqueue adds a pending job. A zero RunAt means run as soon as possible.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	const query = `
INSERT INTO jobs (job_type, payload, status, max_attempts, run_at)
VALUES ($1, $2, 'pending', $3, $4)
RETURNING id, run_at, created_at, updated_at
`

	err := s.db.QueryRowContext(ctx, query, job.JobType, job.Payload, job.MaxAttempts, runAt).
		Scan(&job.ID, &job.RunAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return storageErr(err, "enqueue job")
	}

	job.Status = models.JobStatusPending
	return nil
}

// ClaimNextJob atomically claims the oldest runnable job. It returns nil when
// the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
UPDATE jobs
SET status = 'processing',
    worker_id = $1,
    attempts = attempts + 1,
    updated_at = NOW()
WHERE id = (
  SELECT id FROM jobs
  WHERE status = 'pending' AND run_at <= NOW()
  ORDER BY run_at ASC, id ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "claim next job")
	}
	return job, nil
}

// MarkCompleted marks a job as successfully completed
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	const query = `
UPDATE jobs
SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
WHERE id = $1
`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return storageErr(err, "mark job completed")
	}
	return nil
}

// MarkFailed parks a job that ran out of attempts.
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	const query = `
UPDATE jobs
SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
WHERE id = $1
`
	if _, err := s.db.ExecContext(ctx, query, id, errorMsg); err != nil {
		return storageErr(err, "mark job failed")
	}
	return nil
}

// ScheduleRetry puts a job back in the queue to run at runAt.
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, runAt time.Time) error {
	const query = `
UPDATE jobs
SET status = 'pending', last_error = $2, run_at = $3, updated_at = NOW(), worker_id = NULL
WHERE id = $1
`
	if _, err := s.db.ExecContext(ctx, query, id, errorMsg, runAt); err != nil {
		return storageErr(err, "schedule job retry")
	}
	return nil
}

// ReleaseJob returns a processing job to pending without counting the
// attempt. Used on shutdown.
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	const query = `
UPDATE jobs
SET status = 'pending', attempts = GREATEST(attempts - 1, 0), worker_id = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'processing'
`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return storageErr(err, "release job")
	}
	return nil
}

// CleanupOldJobs removes finished jobs older than the given age.
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
DELETE FROM jobs
WHERE status IN ('completed', 'failed')
  AND updated_at < NOW() - INTERVAL '1 second' * $1
`
	result, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, storageErr(err, "cleanup old jobs")
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	job := &models.Job{}
	var status string

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.Payload,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&job.LastError,
		&job.WorkerID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	return job, nil
}
