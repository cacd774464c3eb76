package prune

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// fakeVectors indexes rows by node_id with a repo attribute for selection.
type fakeVectors struct {
	repos   map[string]string // node_id -> repo
	deleted []string
	batches []int
}

func (f *fakeVectors) EnsureReady(ctx context.Context) error                          { return nil }
func (f *fakeVectors) UpsertBatch(ctx context.Context, rows []models.VectorRow) error { return nil }

func (f *fakeVectors) DeleteBatch(ctx context.Context, nodeIDs []string) error {
	f.deleted = append(f.deleted, nodeIDs...)
	f.batches = append(f.batches, len(nodeIDs))
	for _, id := range nodeIDs {
		delete(f.repos, id)
	}
	return nil
}

func (f *fakeVectors) NodeIDsByRepo(ctx context.Context, repos []string) ([]string, error) {
	want := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		want[r] = struct{}{}
	}
	var ids []string
	for id, repo := range f.repos {
		if _, ok := want[repo]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeVectors) NodeIDsByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	var ids []string
	for id := range f.repos {
		for _, p := range prefixes {
			if strings.HasPrefix(id, p) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeVectors) NodeIDsIn(ctx context.Context, nodeIDs []string) ([]string, error) {
	var ids []string
	for _, id := range nodeIDs {
		if _, ok := f.repos[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func noProgress(interfaces.ProgressUpdate) error { return nil }

func manifestOf(ids ...string) *models.Manifest {
	items := make([]models.IngestItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.NewIngestItem(id, "x", models.Metadata{models.MetaRepo: "R"}))
	}
	return models.NewManifest(items)
}

func TestPruneAfterFileRemoval(t *testing.T) {
	vectors := &fakeVectors{repos: map[string]string{
		"R@A.md": "R",
		"R@B.md": "R",
	}}
	engine := New(vectors, 0, arbor.NewLogger())

	deleted, err := engine.Run(context.Background(), manifestOf("R@A.md"),
		&models.PruneScope{MetadataRepoIn: []string{"R"}}, noProgress)
	require.NoError(t, err)

	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"R@B.md"}, vectors.deleted)
	assert.Contains(t, vectors.repos, "R@A.md")
}

func TestPruneNeverTouchesOutsideCandidates(t *testing.T) {
	vectors := &fakeVectors{repos: map[string]string{
		"R@A.md": "R",
		"S@X.md": "S", // other repo, never a candidate
	}}
	engine := New(vectors, 0, arbor.NewLogger())

	// Empty manifest: every candidate is stale, but only repo R is scoped.
	deleted, err := engine.Run(context.Background(), manifestOf(),
		&models.PruneScope{MetadataRepoIn: []string{"R"}}, noProgress)
	require.NoError(t, err)

	assert.Equal(t, 1, deleted)
	assert.Contains(t, vectors.repos, "S@X.md")
}

func TestPruneEmptyScopeFails(t *testing.T) {
	engine := New(&fakeVectors{repos: map[string]string{}}, 0, arbor.NewLogger())

	_, err := engine.Run(context.Background(), manifestOf(), &models.PruneScope{}, noProgress)
	assert.Error(t, err)

	_, err = engine.Run(context.Background(), manifestOf(), nil, noProgress)
	assert.Error(t, err)
}

func TestPruneManifestSelectorsRequireManifest(t *testing.T) {
	engine := New(&fakeVectors{repos: map[string]string{}}, 0, arbor.NewLogger())

	_, err := engine.Run(context.Background(), nil,
		&models.PruneScope{MetadataRepoFromManifest: true}, noProgress)
	assert.Error(t, err)

	// Non-manifest selectors work without one.
	_, err = engine.Run(context.Background(), nil,
		&models.PruneScope{DocIDPrefixes: []string{"R@"}}, noProgress)
	assert.NoError(t, err)
}

func TestPruneBatchesDeletes(t *testing.T) {
	repos := make(map[string]string)
	for i := 0; i < 25; i++ {
		repos[fmt.Sprintf("R@f%02d.md", i)] = "R"
	}
	vectors := &fakeVectors{repos: repos}
	engine := New(vectors, 10, arbor.NewLogger())

	var perBatch []interfaces.ProgressUpdate
	deleted, err := engine.Run(context.Background(), manifestOf(),
		&models.PruneScope{MetadataRepoIn: []string{"R"}},
		func(u interfaces.ProgressUpdate) error {
			perBatch = append(perBatch, u)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, 25, deleted)
	assert.Equal(t, []int{10, 10, 5}, vectors.batches)
	// Initial, one per batch, final done.
	assert.Len(t, perBatch, 5)
	assert.Equal(t, interfaces.StageDone, perBatch[len(perBatch)-1].Stage)
}

func TestPruneCancellationStopsDeletes(t *testing.T) {
	repos := make(map[string]string)
	for i := 0; i < 20; i++ {
		repos[fmt.Sprintf("R@f%02d.md", i)] = "R"
	}
	vectors := &fakeVectors{repos: repos}
	engine := New(vectors, 5, arbor.NewLogger())

	calls := 0
	_, err := engine.Run(context.Background(), manifestOf(),
		&models.PruneScope{MetadataRepoIn: []string{"R"}},
		func(u interfaces.ProgressUpdate) error {
			calls++
			if calls == 3 { // after the second delete batch
				return interfaces.ErrJobCanceled
			}
			return nil
		})
	assert.ErrorIs(t, err, interfaces.ErrJobCanceled)
	assert.Equal(t, []int{5, 5}, vectors.batches)
}
