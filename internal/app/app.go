package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/artifacts"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/embeddings"
	"github.com/ternarybob/colligo/internal/indexer"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
	"github.com/ternarybob/colligo/internal/prune"
	"github.com/ternarybob/colligo/internal/reaper"
	"github.com/ternarybob/colligo/internal/sources"
	"github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/storage/postgres"
	"github.com/ternarybob/colligo/internal/vector"
	"github.com/ternarybob/colligo/internal/worker"
)

// App wires the storage backends, engines and workers from configuration.
// The HTTP server and the workers share the same repositories, so cancel
// requests land in the store the workers poll.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Repos        map[models.JobType]interfaces.JobRepository
	Artifacts    interfaces.ArtifactStore
	Materializer *pipeline.Materializer
	Workers      []*worker.Worker
	Reaper       *reaper.Reaper

	repoFactory interfaces.JobRepositoryFactory
	badgerDB    *badger.BadgerDB
	pgPool      *postgres.Pool
}

// New initializes the application. Startup is fail-fast: an unreachable
// store, a missing embedder key or a vector dimension mismatch abort here
// rather than on the first job.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Repos:  make(map[models.JobType]interfaces.JobRepository),
	}

	if err := app.initStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initEngines(ctx); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().
		Str("job_backend", cfg.Storage.JobBackend).
		Str("vector_table", cfg.Vector.TableName).
		Int("embed_dim", cfg.Vector.EmbedDim).
		Int("workers", len(app.Workers)).
		Msg("Application initialized")
	return app, nil
}

// initStorage brings up the job repositories, checksum store, vector gateway
// and artifact store.
func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config

	// The vector gateway is pgvector regardless of the job backend, so the
	// postgres pool is always required.
	pool, err := postgres.NewPool(ctx, cfg.Storage.Postgres, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.pgPool = pool

	switch cfg.Storage.JobBackend {
	case "", "badger":
		db, err := badger.NewBadgerDB(a.Logger, &cfg.Storage.Badger)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		a.badgerDB = db
		a.repoFactory = badger.NewRepositoryFactory(db, a.Logger)
	case "postgres":
		a.repoFactory = postgres.NewRepositoryFactory(pool, a.Logger)
	default:
		return fmt.Errorf("unknown job backend: %q", cfg.Storage.JobBackend)
	}

	for _, jobType := range models.KnownJobTypes() {
		repo := a.repoFactory.ForQueue(jobType.Queue())
		if err := repo.Ensure(ctx); err != nil {
			return fmt.Errorf("failed to prepare %s queue: %w", jobType.Queue(), err)
		}
		a.Repos[jobType] = repo
	}

	store, err := artifacts.NewStore(ctx, cfg.Artifacts, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	a.Artifacts = store

	return nil
}

// initEngines wires the indexer, pruner, materializer and per-queue workers.
func (a *App) initEngines(ctx context.Context) error {
	cfg := a.Config

	var checksums interfaces.ChecksumStore
	if a.badgerDB != nil {
		checksums = badger.NewChecksumStore(a.badgerDB, a.Logger)
	} else {
		checksums = postgres.NewChecksumStore(a.pgPool, a.Logger)
	}
	if err := checksums.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to prepare checksum store: %w", err)
	}

	vectors, err := vector.NewGateway(a.pgPool, cfg.Vector, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vector gateway: %w", err)
	}
	if err := vectors.EnsureReady(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector store: %w", err)
	}

	embedder, err := embeddings.NewClient(cfg.Embedder, cfg.Vector.EmbedDim, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	srcFactory := sources.NewFactory(cfg, a.Logger)
	a.Materializer = pipeline.NewMaterializer(srcFactory, a.Artifacts, a.Logger)

	engines := worker.Engines{
		Indexer: indexer.New(checksums, vectors, embedder, 0, a.Logger),
		Pruner:  prune.New(vectors, 0, a.Logger),
	}

	pollInterval := cfg.Queue.PollIntervalDuration()
	reapers := make(map[string]interfaces.StaleReaper)
	for _, jobType := range servedQueues(cfg.Queue.Type) {
		repo, ok := a.Repos[jobType]
		if !ok {
			return fmt.Errorf("unknown queue type: %q", cfg.Queue.Type)
		}
		a.Workers = append(a.Workers,
			worker.New(jobType.Queue(), repo, a.Artifacts, srcFactory, engines, pollInterval, a.Logger))
		if reaperRepo, ok := repo.(interfaces.StaleReaper); ok {
			reapers[jobType.Queue()] = reaperRepo
		}
	}
	if len(a.Workers) == 0 {
		return fmt.Errorf("unknown queue type: %q", cfg.Queue.Type)
	}

	a.Reaper = reaper.New(reapers, cfg.Reaper, a.Logger)
	return nil
}

// Start launches the workers and the reaper. Workers stop when ctx is
// canceled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Reaper.Start(); err != nil {
		return err
	}
	for _, w := range a.Workers {
		go w.Run(ctx)
	}
	return nil
}

// Close releases the storage connections.
func (a *App) Close() {
	if a.Reaper != nil {
		a.Reaper.Stop()
	}
	if a.repoFactory != nil {
		if err := a.repoFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Job repository close failed")
		}
	} else if a.badgerDB != nil {
		if err := a.badgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Badger close failed")
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

// servedQueues resolves the configured queue selector to job types. Empty and
// "all" mean one worker per known queue.
func servedQueues(queueType string) []models.JobType {
	switch strings.ToLower(strings.TrimSpace(queueType)) {
	case "", "all":
		return models.KnownJobTypes()
	default:
		return []models.JobType{models.JobType(queueType)}
	}
}
