package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/sources"
)

// ManifestSource replays a stored manifest as a source stream.
type ManifestSource struct {
	Manifest *models.Manifest
}

// Stream emits the manifest items in stored order.
func (s *ManifestSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	for _, item := range s.Manifest.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}

// Materializer turns source specs into stored manifests. Front-ends use it to
// pre-materialize a traversal once and reference the artifact key from
// multiple jobs (an ingest and its matching prune see the same snapshot).
type Materializer struct {
	factory   *sources.Factory
	artifacts interfaces.ArtifactStore
	logger    arbor.ILogger
}

// NewMaterializer wires the source factory to an artifact store.
func NewMaterializer(factory *sources.Factory, artifacts interfaces.ArtifactStore, logger arbor.ILogger) *Materializer {
	return &Materializer{
		factory:   factory,
		artifacts: artifacts,
		logger:    logger,
	}
}

// Build runs the traversal and collects all items into a manifest.
func (m *Materializer) Build(ctx context.Context, specs []models.SourceSpec, chunkSize, overlap int) (*models.Manifest, error) {
	source, err := m.factory.FromSpecs(ctx, specs, chunkSize, overlap)
	if err != nil {
		return nil, err
	}

	var items []models.IngestItem
	err = source.Stream(ctx, func(item models.IngestItem) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize sources: %w", err)
	}

	m.logger.Info().Int("items", len(items)).Int("sources", len(specs)).Msg("Materialized manifest")
	return models.NewManifest(items), nil
}

// Materialize builds a manifest and stores it, returning the artifact key.
func (m *Materializer) Materialize(ctx context.Context, specs []models.SourceSpec, chunkSize, overlap int) (string, error) {
	manifest, err := m.Build(ctx, specs, chunkSize, overlap)
	if err != nil {
		return "", err
	}
	return m.artifacts.PutManifest(ctx, manifest)
}

// Resolve returns the item stream for a job payload: the stored manifest when
// artifact_key is set, otherwise an inline traversal of payload.sources. The
// manifest (when one exists) is returned alongside for prune scoping.
func Resolve(ctx context.Context, payload models.JobPayload, store interfaces.ArtifactStore, factory *sources.Factory) (interfaces.Source, *models.Manifest, error) {
	if payload.ArtifactKey != "" {
		manifest, err := store.GetManifest(ctx, payload.ArtifactKey)
		if err != nil {
			return nil, nil, err
		}
		return &ManifestSource{Manifest: manifest}, manifest, nil
	}

	source, err := factory.FromSpecs(ctx, payload.Sources, payload.ChunkSize, payload.ChunkOverlap)
	if err != nil {
		return nil, nil, err
	}
	return source, nil, nil
}
