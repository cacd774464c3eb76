package prune

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DefaultBatchSize bounds each delete statement.
const DefaultBatchSize = 1000

// Engine removes vector rows whose logical source is gone according to a
// fresh manifest. Deletion never reaches outside the candidate set built from
// the scope selectors, so an incomplete manifest cannot erase the store.
type Engine struct {
	vectors   interfaces.VectorStore
	batchSize int
	logger    arbor.ILogger
}

// New creates a prune engine. batchSize <= 0 selects the default.
func New(vectors interfaces.VectorStore, batchSize int, logger arbor.ILogger) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{vectors: vectors, batchSize: batchSize, logger: logger}
}

// Run deletes candidate rows not present in the manifest, returning the
// number deleted. An empty scope is a precondition failure; manifest may be
// nil only when no selector derives from it.
func (e *Engine) Run(ctx context.Context, manifest *models.Manifest, scope *models.PruneScope, progress interfaces.ProgressFunc) (int, error) {
	if scope == nil || scope.Empty() {
		return 0, fmt.Errorf("prune requires a non-empty scope")
	}
	if scope.NeedsManifest() && manifest == nil {
		return 0, fmt.Errorf("prune scope derives from a manifest but none was provided")
	}

	candidates, err := e.candidates(ctx, manifest, scope)
	if err != nil {
		return 0, err
	}

	keep := map[string]struct{}{}
	if manifest != nil {
		keep = manifest.KeepSet()
	}

	var deleteSet []string
	for _, id := range candidates {
		if _, kept := keep[id]; kept {
			continue
		}
		deleteSet = append(deleteSet, id)
	}

	total := len(deleteSet)
	if err := progress(interfaces.ProgressUpdate{
		Stage: "prune",
		Done:  interfaces.Count(0),
		Total: interfaces.Count(total),
		Note:  fmt.Sprintf("%d of %d candidates stale", total, len(candidates)),
	}); err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < total; start += e.batchSize {
		end := start + e.batchSize
		if end > total {
			end = total
		}
		if err := e.vectors.DeleteBatch(ctx, deleteSet[start:end]); err != nil {
			return deleted, fmt.Errorf("failed to delete batch: %w", err)
		}
		deleted = end

		if err := progress(interfaces.ProgressUpdate{
			Stage: "prune",
			Done:  interfaces.Count(deleted),
			Total: interfaces.Count(total),
		}); err != nil {
			return deleted, err
		}
	}

	e.logger.Info().Int("candidates", len(candidates)).Int("deleted", deleted).Msg("Prune complete")
	return deleted, progress(interfaces.ProgressUpdate{
		Stage: interfaces.StageDone,
		Done:  interfaces.Count(deleted),
		Total: interfaces.Count(total),
	})
}

// candidates unions the rows selected by every active selector, deduplicated.
func (e *Engine) candidates(ctx context.Context, manifest *models.Manifest, scope *models.PruneScope) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	if len(scope.MetadataRepoIn) > 0 {
		ids, err := e.vectors.NodeIDsByRepo(ctx, scope.MetadataRepoIn)
		if err != nil {
			return nil, fmt.Errorf("failed to select by repo: %w", err)
		}
		add(ids)
	}
	if scope.MetadataRepoFromManifest {
		repos := manifest.Repos()
		if len(repos) > 0 {
			ids, err := e.vectors.NodeIDsByRepo(ctx, repos)
			if err != nil {
				return nil, fmt.Errorf("failed to select by manifest repos: %w", err)
			}
			add(ids)
		}
	}
	if len(scope.DocIDPrefixes) > 0 {
		ids, err := e.vectors.NodeIDsByPrefix(ctx, scope.DocIDPrefixes)
		if err != nil {
			return nil, fmt.Errorf("failed to select by prefix: %w", err)
		}
		add(ids)
	}
	if scope.DocIDInFromManifest {
		manifestIDs := make([]string, 0, len(manifest.Items))
		for _, item := range manifest.Items {
			manifestIDs = append(manifestIDs, item.DocID)
		}
		ids, err := e.vectors.NodeIDsIn(ctx, manifestIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to select by manifest ids: %w", err)
		}
		add(ids)
	}
	return out, nil
}
