package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// jobRecord is the persisted job row. The badgerhold key doubles as the FIFO
// ordering: keys are allocated monotonically at insert time, starting at 1.
type jobRecord struct {
	ID            uint64 `badgerhold:"key"`
	Queue         string `badgerholdIndex:"Queue"`
	Type          string
	Status        string `badgerholdIndex:"Status"`
	Payload       []byte
	Attempts      int
	Error         string
	ProgressDone  int
	ProgressTotal int
	ProgressNote  string
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

func (r *jobRecord) toJob() (*models.Job, error) {
	payload, err := models.JobPayloadFromJSON(r.Payload)
	if err != nil {
		return nil, err
	}
	return &models.Job{
		ID:            int64(r.ID),
		Queue:         r.Queue,
		Type:          models.JobType(r.Type),
		Payload:       payload,
		Status:        models.JobStatus(r.Status),
		Attempts:      r.Attempts,
		Error:         r.Error,
		ProgressDone:  r.ProgressDone,
		ProgressTotal: r.ProgressTotal,
		ProgressNote:  r.ProgressNote,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}, nil
}

// RepositoryFactory hands out per-queue repositories over one Badger store.
// A single mutex serializes claims across all queues: Badger is an embedded
// single-process store, so a process-local lock is a sufficient lease.
type RepositoryFactory struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewRepositoryFactory creates a factory over an open database.
func NewRepositoryFactory(db *BadgerDB, logger arbor.ILogger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// ForQueue returns a repository bound to the named queue.
func (f *RepositoryFactory) ForQueue(queue string) interfaces.JobRepository {
	return &JobRepository{
		db:     f.db,
		queue:  queue,
		mu:     &f.mu,
		logger: f.logger,
	}
}

// Close closes the underlying database.
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}

// JobRepository implements the job table over badgerhold for one queue.
type JobRepository struct {
	db     *BadgerDB
	queue  string
	mu     *sync.Mutex
	logger arbor.ILogger
}

var (
	_ interfaces.JobRepository        = (*JobRepository)(nil)
	_ interfaces.StaleReaper          = (*JobRepository)(nil)
	_ interfaces.JobRepositoryFactory = (*RepositoryFactory)(nil)
)

// Ensure is a no-op; badgerhold needs no schema.
func (r *JobRepository) Ensure(ctx context.Context) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.nextID()
	if err != nil {
		return 0, err
	}
	rec := &jobRecord{
		ID:        id,
		Queue:     r.queue,
		Type:      string(jobType),
		Status:    string(models.JobStatusPending),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.Store().Insert(rec.ID, rec); err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Debug().
		Str("queue", r.queue).
		Str("type", string(jobType)).
		Int64("job_id", int64(rec.ID)).
		Msg("Enqueued job")

	return int64(rec.ID), nil
}

// nextID allocates the next job ID across all queues. IDs start at 1 and
// increase with insertion order, matching the Postgres BIGSERIAL column.
// Callers must hold the factory mutex.
func (r *JobRepository) nextID() (uint64, error) {
	var recs []jobRecord
	query := (&badgerhold.Query{}).SortBy("ID").Reverse().Limit(1)
	if err := r.db.Store().Find(&recs, query); err != nil {
		return 0, fmt.Errorf("failed to allocate job id: %w", err)
	}
	if len(recs) == 0 {
		return 1, nil
	}
	return recs[0].ID + 1, nil
}

// FetchAndStart claims the oldest pending job on the queue, or returns
// (nil, nil) when the queue is empty. The factory mutex makes the
// find-then-update pair atomic within the process.
func (r *JobRepository) FetchAndStart(ctx context.Context) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []jobRecord
	query := badgerhold.Where("Queue").Eq(r.queue).
		And("Status").Eq(string(models.JobStatusPending)).
		SortBy("ID").Limit(1)
	if err := r.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to fetch pending job: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	rec := recs[0]
	now := time.Now().UTC()
	rec.Status = string(models.JobStatusProcessing)
	rec.Attempts++
	rec.StartedAt = &now
	if err := r.db.Store().Update(rec.ID, &rec); err != nil {
		return nil, fmt.Errorf("failed to start job %d: %w", rec.ID, err)
	}
	return rec.toJob()
}

// Get returns a job by ID, or (nil, nil) when it does not exist on this queue.
func (r *JobRepository) Get(ctx context.Context, id int64) (*models.Job, error) {
	rec, err := r.get(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.toJob()
}

// List returns jobs on the queue, newest first. An empty status matches all.
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := badgerhold.Where("Queue").Eq(r.queue)
	if status != "" {
		query = query.And("Status").Eq(string(status))
	}
	query = query.SortBy("ID").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []jobRecord
	if err := r.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(recs))
	for i := range recs {
		job, err := recs[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Complete marks a processing job completed. Jobs already moved to a terminal
// state (a cancel that raced the worker) are left untouched.
func (r *JobRepository) Complete(ctx context.Context, id int64) error {
	return r.finish(id, models.JobStatusCompleted, "")
}

// Fail marks a processing job failed with a truncated error message.
func (r *JobRepository) Fail(ctx context.Context, id int64, errMsg string) error {
	return r.finish(id, models.JobStatusFailed, truncateError(errMsg))
}

func (r *JobRepository) finish(id int64, status models.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("job not found: %d", id)
	}
	if rec.Status != string(models.JobStatusProcessing) {
		return nil
	}

	now := time.Now().UTC()
	rec.Status = string(status)
	rec.Error = errMsg
	rec.FinishedAt = &now
	if err := r.db.Store().Update(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to finish job %d: %w", id, err)
	}
	return nil
}

// Retry re-pends a failed or canceled job, clearing error and progress but
// keeping the attempt count. Reports false when the job is not retryable.
func (r *JobRepository) Retry(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.Status != string(models.JobStatusFailed) && rec.Status != string(models.JobStatusCanceled) {
		return false, nil
	}

	rec.Status = string(models.JobStatusPending)
	rec.Error = ""
	rec.ProgressDone = 0
	rec.ProgressTotal = 0
	rec.ProgressNote = ""
	rec.StartedAt = nil
	rec.FinishedAt = nil
	if err := r.db.Store().Update(rec.ID, rec); err != nil {
		return false, fmt.Errorf("failed to retry job %d: %w", id, err)
	}
	return true, nil
}

// Cancel marks a pending or processing job canceled. A processing job keeps
// running until its next progress checkpoint observes the status.
func (r *JobRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.Status != string(models.JobStatusPending) && rec.Status != string(models.JobStatusProcessing) {
		return false, nil
	}

	now := time.Now().UTC()
	rec.Status = string(models.JobStatusCanceled)
	if rec.Error == "" {
		rec.Error = "canceled"
	}
	rec.FinishedAt = &now
	if err := r.db.Store().Update(rec.ID, rec); err != nil {
		return false, fmt.Errorf("failed to cancel job %d: %w", id, err)
	}
	return true, nil
}

// UpdateProgress overwrites only the non-nil fields.
func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, done, total *int, note *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("job not found: %d", id)
	}

	if done != nil {
		rec.ProgressDone = *done
	}
	if total != nil {
		rec.ProgressTotal = *total
	}
	if note != nil {
		rec.ProgressNote = *note
	}
	if err := r.db.Store().Update(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to update progress for job %d: %w", id, err)
	}
	return nil
}

// ReapStale re-pends processing jobs on this queue whose StartedAt is older
// than the cutoff, returning the number re-pended.
func (r *JobRepository) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var recs []jobRecord
	query := badgerhold.Where("Queue").Eq(r.queue).
		And("Status").Eq(string(models.JobStatusProcessing))
	if err := r.db.Store().Find(&recs, query); err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	reaped := 0
	for i := range recs {
		rec := &recs[i]
		if rec.StartedAt == nil || rec.StartedAt.After(cutoff) {
			continue
		}
		rec.Status = string(models.JobStatusPending)
		rec.StartedAt = nil
		if err := r.db.Store().Update(rec.ID, rec); err != nil {
			return reaped, fmt.Errorf("failed to re-pend job %d: %w", rec.ID, err)
		}
		reaped++
	}

	if reaped > 0 {
		r.logger.Info().Str("queue", r.queue).Int("count", reaped).Msg("Re-pended stale jobs")
	}
	return reaped, nil
}

func (r *JobRepository) get(id int64) (*jobRecord, error) {
	var rec jobRecord
	if err := r.db.Store().Get(uint64(id), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	if rec.Queue != r.queue {
		return nil, nil
	}
	return &rec, nil
}

const maxErrorLen = 2000

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
