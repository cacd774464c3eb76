package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeChecksums struct {
	data    map[string]string
	upserts int
	log     *[]string
}

func (f *fakeChecksums) Ensure(ctx context.Context) error { return nil }

func (f *fakeChecksums) LoadMap(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, nil
}

func (f *fakeChecksums) UpsertMany(ctx context.Context, records []models.ChecksumRecord) error {
	f.upserts++
	if f.log != nil {
		*f.log = append(*f.log, "checksums")
	}
	for _, rec := range records {
		f.data[rec.DocID] = rec.Checksum
	}
	return nil
}

type fakeVectors struct {
	rows    map[string]models.VectorRow
	upserts int
	log     *[]string
}

func (f *fakeVectors) EnsureReady(ctx context.Context) error { return nil }

func (f *fakeVectors) UpsertBatch(ctx context.Context, rows []models.VectorRow) error {
	f.upserts++
	if f.log != nil {
		*f.log = append(*f.log, "vectors")
	}
	for _, row := range rows {
		f.rows[row.NodeID] = row
	}
	return nil
}

func (f *fakeVectors) DeleteBatch(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeVectors) NodeIDsByRepo(ctx context.Context, repos []string) ([]string, error) {
	return nil, nil
}

func (f *fakeVectors) NodeIDsByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	return nil, nil
}

func (f *fakeVectors) NodeIDsIn(ctx context.Context, nodeIDs []string) ([]string, error) {
	return nil, nil
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Name() string   { return "fake" }

type sliceSource struct{ items []models.IngestItem }

func (s *sliceSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	for _, item := range s.items {
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}

type progressRecorder struct {
	updates []interfaces.ProgressUpdate
	failAt  string
	failErr error
}

func (p *progressRecorder) fn(u interfaces.ProgressUpdate) error {
	p.updates = append(p.updates, u)
	if p.failAt != "" && u.Stage == p.failAt {
		return p.failErr
	}
	return nil
}

func (p *progressRecorder) last() interfaces.ProgressUpdate {
	return p.updates[len(p.updates)-1]
}

func newFixture() (*fakeChecksums, *fakeVectors, *Indexer) {
	checksums := &fakeChecksums{data: make(map[string]string)}
	vectors := &fakeVectors{rows: make(map[string]models.VectorRow)}
	ix := New(checksums, vectors, &fakeEmbedder{dim: 4}, 2, arbor.NewLogger())
	return checksums, vectors, ix
}

func oneFileRepo() []models.IngestItem {
	return []models.IngestItem{
		models.NewIngestItem("https://host/ORG/REPO@README.md", "hello\n", models.Metadata{
			models.MetaRepo:     "https://host/ORG/REPO",
			models.MetaFilePath: "README.md",
		}),
	}
}

func TestFirstIngest(t *testing.T) {
	checksums, vectors, ix := newFixture()
	rec := &progressRecorder{}

	err := ix.IndexStream(context.Background(), &sliceSource{items: oneFileRepo()}, false, rec.fn)
	require.NoError(t, err)

	require.Contains(t, vectors.rows, "https://host/ORG/REPO@README.md")
	assert.Equal(t, models.ChecksumOf("hello\n"), checksums.data["https://host/ORG/REPO@README.md"])

	last := rec.last()
	assert.Equal(t, interfaces.StageDone, last.Stage)
	assert.Equal(t, 1, *last.Done)
	assert.Equal(t, 1, *last.Total)
}

func TestIdempotentReingest(t *testing.T) {
	checksums, vectors, ix := newFixture()
	items := oneFileRepo()
	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{items: items}, false, (&progressRecorder{}).fn))

	vectorUpserts := vectors.upserts
	checksumUpserts := checksums.upserts

	rec := &progressRecorder{}
	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{items: items}, false, rec.fn))

	assert.Equal(t, vectorUpserts, vectors.upserts)
	assert.Equal(t, checksumUpserts, checksums.upserts)

	last := rec.last()
	assert.Equal(t, interfaces.StageDone, last.Stage)
	assert.Equal(t, 0, *last.Done)
	assert.Equal(t, 1, *last.Total)
	assert.Equal(t, "no changes", last.Note)
}

func TestForcedReingest(t *testing.T) {
	checksums, vectors, ix := newFixture()
	items := oneFileRepo()
	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{items: items}, false, (&progressRecorder{}).fn))

	vectorUpserts := vectors.upserts
	checksumUpserts := checksums.upserts

	rec := &progressRecorder{}
	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{items: items}, true, rec.fn))

	assert.Equal(t, vectorUpserts+1, vectors.upserts)
	assert.Equal(t, checksumUpserts+1, checksums.upserts)

	last := rec.last()
	assert.Equal(t, 1, *last.Done)
	assert.Equal(t, 1, *last.Total)
}

func TestEmptyStream(t *testing.T) {
	checksums, vectors, ix := newFixture()
	rec := &progressRecorder{}

	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{}, false, rec.fn))

	assert.Zero(t, vectors.upserts)
	assert.Zero(t, checksums.upserts)
	last := rec.last()
	assert.Equal(t, 0, *last.Total)
}

func TestChecksumsFollowVectorsPerBatch(t *testing.T) {
	var log []string
	checksums := &fakeChecksums{data: make(map[string]string), log: &log}
	vectors := &fakeVectors{rows: make(map[string]models.VectorRow), log: &log}
	ix := New(checksums, vectors, &fakeEmbedder{dim: 4}, 2, arbor.NewLogger())

	var items []models.IngestItem
	for i := 0; i < 5; i++ {
		items = append(items, models.NewIngestItem(fmt.Sprintf("doc-%d", i), fmt.Sprintf("text %d", i), nil))
	}
	require.NoError(t, ix.IndexStream(context.Background(), &sliceSource{items: items}, false, (&progressRecorder{}).fn))

	// 3 batches of <=2, each vectors-then-checksums.
	require.Len(t, log, 6)
	for i := 0; i < len(log); i += 2 {
		assert.Equal(t, "vectors", log[i])
		assert.Equal(t, "checksums", log[i+1])
	}
}

func TestCancellationAtCheckpointStopsIndexing(t *testing.T) {
	checksums, vectors, ix := newFixture()
	var items []models.IngestItem
	for i := 0; i < 6; i++ {
		items = append(items, models.NewIngestItem(fmt.Sprintf("doc-%d", i), fmt.Sprintf("text %d", i), nil))
	}

	rec := &progressRecorder{failAt: interfaces.StageIndexed, failErr: interfaces.ErrJobCanceled}
	err := ix.IndexStream(context.Background(), &sliceSource{items: items}, false, rec.fn)
	assert.ErrorIs(t, err, interfaces.ErrJobCanceled)

	// Only the first batch landed.
	assert.Equal(t, 1, vectors.upserts)
	assert.Equal(t, 1, checksums.upserts)
}

func TestRefreshChecksumsSkipsVectors(t *testing.T) {
	checksums, vectors, ix := newFixture()
	items := oneFileRepo()

	rec := &progressRecorder{}
	require.NoError(t, ix.RefreshChecksums(context.Background(), &sliceSource{items: items}, false, rec.fn))

	assert.Zero(t, vectors.upserts)
	assert.Equal(t, 1, checksums.upserts)
	assert.Equal(t, models.ChecksumOf("hello\n"), checksums.data["https://host/ORG/REPO@README.md"])

	// Second pass is a no-op.
	rec2 := &progressRecorder{}
	require.NoError(t, ix.RefreshChecksums(context.Background(), &sliceSource{items: items}, false, rec2.fn))
	assert.Equal(t, 1, checksums.upserts)
	assert.Equal(t, "no changes", rec2.last().Note)
}
