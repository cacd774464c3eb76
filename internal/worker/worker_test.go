package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/indexer"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/prune"
	"github.com/ternarybob/colligo/internal/sources"
)

// memRepo is an in-memory JobRepository for one queue.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[int64]*models.Job)}
}

func (r *memRepo) Ensure(ctx context.Context) error { return nil }

func (r *memRepo) Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.jobs[r.nextID] = &models.Job{
		ID:        r.nextID,
		Type:      jobType,
		Payload:   payload,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return r.nextID, nil
}

func (r *memRepo) FetchAndStart(ctx context.Context) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.Job
	for _, job := range r.jobs {
		if job.Status != models.JobStatusPending {
			continue
		}
		if oldest == nil || job.ID < oldest.ID {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusProcessing
	oldest.Attempts++
	oldest.StartedAt = &now
	cp := *oldest
	return &cp, nil
}

func (r *memRepo) Get(ctx context.Context, id int64) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	return nil, nil
}

func (r *memRepo) Complete(ctx context.Context, id int64) error {
	return r.finish(id, models.JobStatusCompleted, "")
}

func (r *memRepo) Fail(ctx context.Context, id int64, errMsg string) error {
	return r.finish(id, models.JobStatusFailed, errMsg)
}

func (r *memRepo) finish(id int64, status models.JobStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != models.JobStatusProcessing {
		return nil
	}
	now := time.Now().UTC()
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = &now
	return nil
}

func (r *memRepo) Retry(ctx context.Context, id int64) (bool, error) { return false, nil }

func (r *memRepo) Cancel(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCanceled
	job.Error = "canceled"
	job.FinishedAt = &now
	return true, nil
}

func (r *memRepo) UpdateProgress(ctx context.Context, id int64, done, total *int, note *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil {
		return fmt.Errorf("job not found: %d", id)
	}
	if done != nil {
		job.ProgressDone = *done
	}
	if total != nil {
		job.ProgressTotal = *total
	}
	if note != nil {
		job.ProgressNote = *note
	}
	return nil
}

// memArtifacts is an in-memory ArtifactStore.
type memArtifacts struct {
	mu        sync.Mutex
	nextKey   int
	manifests map[string]*models.Manifest
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{manifests: make(map[string]*models.Manifest)}
}

func (a *memArtifacts) PutManifest(ctx context.Context, m *models.Manifest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextKey++
	key := fmt.Sprintf("key-%d", a.nextKey)
	a.manifests[key] = m
	return key, nil
}

func (a *memArtifacts) GetManifest(ctx context.Context, key string) (*models.Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.manifests[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrManifestNotFound, key)
	}
	return m, nil
}

type memChecksums struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *memChecksums) Ensure(ctx context.Context) error { return nil }

func (f *memChecksums) LoadMap(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, nil
}

func (f *memChecksums) UpsertMany(ctx context.Context, records []models.ChecksumRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.data[rec.DocID] = rec.Checksum
	}
	return nil
}

type memVectors struct {
	mu   sync.Mutex
	rows map[string]models.VectorRow
}

func (f *memVectors) EnsureReady(ctx context.Context) error { return nil }

func (f *memVectors) UpsertBatch(ctx context.Context, rows []models.VectorRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.rows[row.NodeID] = row
	}
	return nil
}

func (f *memVectors) DeleteBatch(ctx context.Context, nodeIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range nodeIDs {
		delete(f.rows, id)
	}
	return nil
}

func (f *memVectors) NodeIDsByRepo(ctx context.Context, repos []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		want[r] = struct{}{}
	}
	var ids []string
	for id, row := range f.rows {
		repo, _ := row.Metadata.GetString(models.MetaRepo)
		if _, ok := want[repo]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *memVectors) NodeIDsByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	return nil, nil
}

func (f *memVectors) NodeIDsIn(ctx context.Context, nodeIDs []string) ([]string, error) {
	return nil, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}
func (fixedEmbedder) Dimension() int { return 3 }
func (fixedEmbedder) Name() string   { return "fixed" }

type fixture struct {
	repo      *memRepo
	artifacts *memArtifacts
	checksums *memChecksums
	vectors   *memVectors
	worker    *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	repo := newMemRepo()
	artifacts := newMemArtifacts()
	checksums := &memChecksums{data: make(map[string]string)}
	vectors := &memVectors{rows: make(map[string]models.VectorRow)}
	engines := Engines{
		Indexer: indexer.New(checksums, vectors, fixedEmbedder{}, 2, logger),
		Pruner:  prune.New(vectors, 0, logger),
	}
	factory := sources.NewFactory(common.NewDefaultConfig(), logger)
	w := New("ingest", repo, artifacts, factory, engines, time.Millisecond, logger)
	return &fixture{repo: repo, artifacts: artifacts, checksums: checksums, vectors: vectors, worker: w}
}

func storeManifest(t *testing.T, f *fixture, ids ...string) string {
	t.Helper()
	items := make([]models.IngestItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.NewIngestItem(id, "content of "+id, models.Metadata{models.MetaRepo: "R"}))
	}
	key, err := f.artifacts.PutManifest(context.Background(), models.NewManifest(items))
	require.NoError(t, err)
	return key
}

func TestWorkerIdleQueue(t *testing.T) {
	f := newFixture(t)
	processed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerRunsIngestJob(t *testing.T) {
	f := newFixture(t)
	key := storeManifest(t, f, "R@a.md", "R@b.md", "R@c.md")
	id, err := f.repo.Enqueue(context.Background(), models.JobTypeIngest, models.JobPayload{ArtifactKey: key})
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 3, job.ProgressDone)
	assert.Equal(t, 3, job.ProgressTotal)
	assert.Len(t, f.vectors.rows, 3)
	assert.Len(t, f.checksums.data, 3)
}

func TestWorkerFailsOnMissingManifest(t *testing.T) {
	f := newFixture(t)
	id, err := f.repo.Enqueue(context.Background(), models.JobTypeIngest, models.JobPayload{ArtifactKey: "absent"})
	require.NoError(t, err)

	processed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "manifest not found")
}

func TestWorkerRunsChecksumUpdate(t *testing.T) {
	f := newFixture(t)
	key := storeManifest(t, f, "R@a.md")
	id, err := f.repo.Enqueue(context.Background(), models.JobTypeChecksumUpdate, models.JobPayload{ArtifactKey: key})
	require.NoError(t, err)

	_, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	job, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Len(t, f.checksums.data, 1)
	assert.Empty(t, f.vectors.rows)
}

func TestWorkerRunsPruneJob(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vectors.UpsertBatch(context.Background(), []models.VectorRow{
		{NodeID: "R@keep.md", Metadata: models.Metadata{models.MetaRepo: "R"}},
		{NodeID: "R@stale.md", Metadata: models.Metadata{models.MetaRepo: "R"}},
	}))
	key := storeManifest(t, f, "R@keep.md")

	id, err := f.repo.Enqueue(context.Background(), models.JobTypePrune, models.JobPayload{
		ArtifactKey: key,
		PruneScope:  &models.PruneScope{MetadataRepoIn: []string{"R"}},
	})
	require.NoError(t, err)

	_, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	job, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Contains(t, f.vectors.rows, "R@keep.md")
	assert.NotContains(t, f.vectors.rows, "R@stale.md")
}

func TestWorkerObservesCancelAtCheckpoint(t *testing.T) {
	f := newFixture(t)
	key := storeManifest(t, f, "R@a.md", "R@b.md")
	id, err := f.repo.Enqueue(context.Background(), models.JobTypeIngest, models.JobPayload{ArtifactKey: key})
	require.NoError(t, err)

	// Cancel before the worker picks it up; processing then aborts at the
	// first checkpoint without flipping the terminal state.
	job, err := f.repo.FetchAndStart(context.Background())
	require.NoError(t, err)
	ok, err := f.repo.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.worker.process(context.Background(), job)
	assert.ErrorIs(t, err, interfaces.ErrJobCanceled)

	got, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, got.Status)
	assert.Zero(t, got.ProgressDone)
}

func TestWorkerUnknownTypeFails(t *testing.T) {
	f := newFixture(t)
	f.repo.nextID++
	f.repo.jobs[f.repo.nextID] = &models.Job{
		ID:     f.repo.nextID,
		Type:   "mystery",
		Status: models.JobStatusPending,
	}

	processed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := f.repo.Get(context.Background(), f.repo.nextID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}
