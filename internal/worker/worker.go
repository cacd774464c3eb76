package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/indexer"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/prune"
	"github.com/ternarybob/colligo/internal/sources"
)

// Engines bundles the per-job-type execution engines.
type Engines struct {
	Indexer *indexer.Indexer
	Pruner  *prune.Engine
}

// Worker serves one logical queue: lease a job, run its engine, report
// progress, mark terminal state. One job at a time; horizontal scaling is
// more worker processes against the same repository.
type Worker struct {
	queue        string
	repo         interfaces.JobRepository
	artifacts    interfaces.ArtifactStore
	factory      *sources.Factory
	engines      Engines
	pollInterval time.Duration
	logger       arbor.ILogger
}

// New creates a worker for the queue the repository is bound to.
func New(queue string, repo interfaces.JobRepository, artifacts interfaces.ArtifactStore, factory *sources.Factory, engines Engines, pollInterval time.Duration, logger arbor.ILogger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		queue:        queue,
		repo:         repo,
		artifacts:    artifacts,
		factory:      factory,
		engines:      engines,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Str("queue", w.queue).Msg("Worker started")
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Str("queue", w.queue).Msg("Worker iteration failed")
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Str("queue", w.queue).Msg("Worker stopped")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce leases and processes at most one job, reporting whether one ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.FetchAndStart(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.logger.Info().
		Str("queue", w.queue).
		Int64("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	err = w.process(ctx, job)
	switch {
	case err == nil:
		if err := w.repo.Complete(ctx, job.ID); err != nil {
			return true, err
		}
		w.logger.Info().Int64("job_id", job.ID).Msg("Job completed")
	case errors.Is(err, interfaces.ErrJobCanceled):
		// The repository already holds the canceled terminal state.
		w.logger.Info().Int64("job_id", job.ID).Msg("Job canceled")
	default:
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Job failed")
		if failErr := w.repo.Fail(ctx, job.ID, err.Error()); failErr != nil {
			return true, failErr
		}
	}
	return true, nil
}

// process dispatches the job to its engine, converting panics into failures.
func (w *Worker) process(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	progress := w.progressFunc(ctx, job.ID)

	switch job.Type {
	case models.JobTypeIngest:
		source, _, err := pipeline.Resolve(ctx, job.Payload, w.artifacts, w.factory)
		if err != nil {
			return err
		}
		return w.engines.Indexer.IndexStream(ctx, source, job.Payload.Force, progress)

	case models.JobTypeChecksumUpdate:
		source, _, err := pipeline.Resolve(ctx, job.Payload, w.artifacts, w.factory)
		if err != nil {
			return err
		}
		return w.engines.Indexer.RefreshChecksums(ctx, source, job.Payload.Force, progress)

	case models.JobTypePrune:
		manifest, err := w.pruneManifest(ctx, job.Payload)
		if err != nil {
			return err
		}
		_, err = w.engines.Pruner.Run(ctx, manifest, job.Payload.PruneScope, progress)
		return err

	default:
		return fmt.Errorf("unknown job type: %q", job.Type)
	}
}

// pruneManifest resolves the manifest a prune job compares against: the
// stored artifact, or a fresh traversal of the inline sources. Scopes that
// do not derive from a manifest may run without one.
func (w *Worker) pruneManifest(ctx context.Context, payload models.JobPayload) (*models.Manifest, error) {
	if payload.ArtifactKey != "" {
		return w.artifacts.GetManifest(ctx, payload.ArtifactKey)
	}
	if len(payload.Sources) == 0 {
		return nil, nil
	}

	source, err := w.factory.FromSpecs(ctx, payload.Sources, payload.ChunkSize, payload.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	var items []models.IngestItem
	err = source.Stream(ctx, func(item models.IngestItem) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize prune manifest: %w", err)
	}
	return models.NewManifest(items), nil
}

// progressFunc writes progress back to the repository. Every call doubles as
// the cancellation checkpoint: a job observed in canceled state aborts the
// engine with ErrJobCanceled and suppresses further updates.
func (w *Worker) progressFunc(ctx context.Context, jobID int64) interfaces.ProgressFunc {
	return func(u interfaces.ProgressUpdate) error {
		current, err := w.repo.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("job %d disappeared", jobID)
		}
		if current.Status == models.JobStatusCanceled {
			return interfaces.ErrJobCanceled
		}

		note := u.Note
		if note == "" {
			note = u.Stage
		}
		return w.repo.UpdateProgress(ctx, jobID, u.Done, u.Total, &note)
	}
}
