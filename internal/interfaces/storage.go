package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/colligo/internal/models"
)

// ErrManifestNotFound is returned by artifact stores when a key has no blob.
var ErrManifestNotFound = errors.New("manifest not found")

// ArtifactStore is a content blob store for manifests. A key returned by
// PutManifest always refers to a fully written blob (write-temp-then-rename
// for filesystems, single-request PUT for object stores). Keys are opaque and
// freshly generated per write.
type ArtifactStore interface {
	PutManifest(ctx context.Context, m *models.Manifest) (string, error)
	GetManifest(ctx context.Context, key string) (*models.Manifest, error)
}

// ChecksumStore is the persistent doc_id -> checksum map shared by workers.
// Upserts are per-record and last-writer-wins under concurrency.
type ChecksumStore interface {
	Ensure(ctx context.Context) error
	LoadMap(ctx context.Context) (map[string]string, error)
	UpsertMany(ctx context.Context, records []models.ChecksumRecord) error
}

// VectorStore mutates vector rows keyed by node_id (= doc_id). EnsureReady
// creates the backing table if missing and verifies the declared embedding
// dimension of an existing table against the configured one, failing fast on
// mismatch.
type VectorStore interface {
	EnsureReady(ctx context.Context) error
	UpsertBatch(ctx context.Context, rows []models.VectorRow) error
	DeleteBatch(ctx context.Context, nodeIDs []string) error

	// Candidate listing for the prune engine.
	NodeIDsByRepo(ctx context.Context, repos []string) ([]string, error)
	NodeIDsByPrefix(ctx context.Context, prefixes []string) ([]string, error)
	NodeIDsIn(ctx context.Context, nodeIDs []string) ([]string, error)
}

// Embedder turns text into vectors. The production client talks to an
// OpenAI-compatible endpoint; tests substitute a fake via this interface.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}
