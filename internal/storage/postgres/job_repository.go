package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS colligo_jobs (
    id             BIGSERIAL PRIMARY KEY,
    queue          TEXT NOT NULL,
    type           TEXT NOT NULL,
    payload        JSONB NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    attempts       INTEGER NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    progress_done  INTEGER NOT NULL DEFAULT 0,
    progress_total INTEGER NOT NULL DEFAULT 0,
    progress_note  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at     TIMESTAMPTZ,
    finished_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS colligo_jobs_queue_status_idx
    ON colligo_jobs (queue, status, id);
`

const jobColumns = `id, queue, type, payload, status, attempts, error,
progress_done, progress_total, progress_note, created_at, started_at, finished_at`

// RepositoryFactory hands out per-queue repositories over one shared pool.
type RepositoryFactory struct {
	db     *Pool
	logger arbor.ILogger
}

// NewRepositoryFactory creates a factory over an open pool.
func NewRepositoryFactory(db *Pool, logger arbor.ILogger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// ForQueue returns a repository bound to the named queue.
func (f *RepositoryFactory) ForQueue(queue string) interfaces.JobRepository {
	return &JobRepository{db: f.db, queue: queue, logger: f.logger}
}

// Close closes the underlying pool.
func (f *RepositoryFactory) Close() error {
	f.db.Close()
	return nil
}

// JobRepository implements the job table over postgres for one queue. Claims
// use FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type JobRepository struct {
	db     *Pool
	queue  string
	logger arbor.ILogger
}

var (
	_ interfaces.JobRepository        = (*JobRepository)(nil)
	_ interfaces.StaleReaper          = (*JobRepository)(nil)
	_ interfaces.JobRepositoryFactory = (*RepositoryFactory)(nil)
)

// Ensure creates the jobs table and its claim index.
func (r *JobRepository) Ensure(ctx context.Context) error {
	if _, err := r.db.Pgx().Exec(ctx, jobsSchema); err != nil {
		return fmt.Errorf("failed to ensure jobs table: %w", err)
	}
	return nil
}

// Enqueue inserts a pending job and returns its assigned ID.
func (r *JobRepository) Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload) (int64, error) {
	if err := payload.Validate(jobType); err != nil {
		return 0, err
	}
	data, err := payload.ToJSON()
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.Pgx().QueryRow(ctx,
		`INSERT INTO colligo_jobs (queue, type, payload) VALUES ($1, $2, $3) RETURNING id`,
		r.queue, string(jobType), data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Debug().
		Str("queue", r.queue).
		Str("type", string(jobType)).
		Int64("job_id", id).
		Msg("Enqueued job")

	return id, nil
}

// FetchAndStart atomically claims the oldest pending job on the queue, or
// returns (nil, nil) when the queue is empty.
func (r *JobRepository) FetchAndStart(ctx context.Context) (*models.Job, error) {
	row := r.db.Pgx().QueryRow(ctx, `
WITH claimed AS (
    SELECT id FROM colligo_jobs
    WHERE queue = $1 AND status = 'pending'
    ORDER BY id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE colligo_jobs j
SET status = 'processing', attempts = j.attempts + 1, started_at = now()
FROM claimed
WHERE j.id = claimed.id
RETURNING j.id, j.queue, j.type, j.payload, j.status, j.attempts, j.error,
    j.progress_done, j.progress_total, j.progress_note, j.created_at, j.started_at, j.finished_at`)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// Get returns a job by ID, or (nil, nil) when it does not exist on this queue.
func (r *JobRepository) Get(ctx context.Context, id int64) (*models.Job, error) {
	row := r.db.Pgx().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM colligo_jobs WHERE id = $1 AND queue = $2`,
		id, r.queue)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

// List returns jobs on the queue, newest first. An empty status matches all.
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.Pgx().Query(ctx,
			`SELECT `+jobColumns+` FROM colligo_jobs
             WHERE queue = $1 AND status = $2 ORDER BY id DESC LIMIT $3`,
			r.queue, string(status), limit)
	} else {
		rows, err = r.db.Pgx().Query(ctx,
			`SELECT `+jobColumns+` FROM colligo_jobs
             WHERE queue = $1 ORDER BY id DESC LIMIT $2`,
			r.queue, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete marks a processing job completed. A cancel that already landed
// keeps its terminal state.
func (r *JobRepository) Complete(ctx context.Context, id int64) error {
	_, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs SET status = 'completed', error = '', finished_at = now()
WHERE id = $1 AND queue = $2 AND status = 'processing'`, id, r.queue)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	return nil
}

// Fail marks a processing job failed with a truncated error message.
func (r *JobRepository) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs SET status = 'failed', error = $3, finished_at = now()
WHERE id = $1 AND queue = $2 AND status = 'processing'`,
		id, r.queue, truncateError(errMsg))
	if err != nil {
		return fmt.Errorf("failed to fail job %d: %w", id, err)
	}
	return nil
}

// Retry re-pends a failed or canceled job, clearing error and progress but
// keeping the attempt count.
func (r *JobRepository) Retry(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs
SET status = 'pending', error = '', progress_done = 0, progress_total = 0,
    progress_note = '', started_at = NULL, finished_at = NULL
WHERE id = $1 AND queue = $2 AND status IN ('failed', 'canceled')`, id, r.queue)
	if err != nil {
		return false, fmt.Errorf("failed to retry job %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel marks a pending or processing job canceled.
func (r *JobRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs
SET status = 'canceled', finished_at = now(),
    error = CASE WHEN error = '' THEN 'canceled' ELSE error END
WHERE id = $1 AND queue = $2 AND status IN ('pending', 'processing')`, id, r.queue)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress overwrites only the non-nil fields.
func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, done, total *int, note *string) error {
	_, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs
SET progress_done  = COALESCE($3, progress_done),
    progress_total = COALESCE($4, progress_total),
    progress_note  = COALESCE($5, progress_note)
WHERE id = $1 AND queue = $2`, id, r.queue, done, total, note)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %d: %w", id, err)
	}
	return nil
}

// ReapStale re-pends processing jobs on this queue started before the cutoff.
func (r *JobRepository) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := r.db.Pgx().Exec(ctx, `
UPDATE colligo_jobs
SET status = 'pending', started_at = NULL
WHERE queue = $1 AND status = 'processing' AND started_at < now() - $2::interval`,
		r.queue, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", err)
	}

	n := int(tag.RowsAffected())
	if n > 0 {
		r.logger.Info().Str("queue", r.queue).Int("count", n).Msg("Re-pended stale jobs")
	}
	return n, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job     models.Job
		typeStr string
		status  string
		payload []byte
	)
	err := row.Scan(&job.ID, &job.Queue, &typeStr, &payload, &status,
		&job.Attempts, &job.Error, &job.ProgressDone, &job.ProgressTotal,
		&job.ProgressNote, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.Type = models.JobType(typeStr)
	job.Status = models.JobStatus(status)
	job.Payload, err = models.JobPayloadFromJSON(payload)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

const maxErrorLen = 2000

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
