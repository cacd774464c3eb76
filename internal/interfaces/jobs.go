package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// JobRepository is the durable multi-queue job table. Each repository instance
// is bound to one logical queue; workers and the API share the same backing
// store through a JobRepositoryFactory.
//
// FetchAndStart atomically claims the oldest pending job on the queue and
// moves it to processing, or returns (nil, nil) when the queue is empty.
// Claimed jobs are invisible to concurrent fetchers.
type JobRepository interface {
	Ensure(ctx context.Context) error
	Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload) (int64, error)
	FetchAndStart(ctx context.Context) (*models.Job, error)
	Get(ctx context.Context, id int64) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)

	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, errMsg string) error

	// Retry re-pends a failed or canceled job; Cancel marks a pending or
	// processing job canceled. Both report false when the job was not in an
	// eligible state.
	Retry(ctx context.Context, id int64) (bool, error)
	Cancel(ctx context.Context, id int64) (bool, error)

	// UpdateProgress overwrites only the non-nil fields; nil preserves the
	// stored value.
	UpdateProgress(ctx context.Context, id int64, done, total *int, note *string) error
}

// JobRepositoryFactory hands out per-queue repositories over one shared
// backing store.
type JobRepositoryFactory interface {
	ForQueue(queue string) JobRepository
	Close() error
}

// StaleReaper re-pends processing jobs whose lease has gone quiet for longer
// than olderThan. Implemented by backends that track a heartbeat or start
// timestamp.
type StaleReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}
