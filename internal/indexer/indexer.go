package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// DefaultBatchSize is the number of items embedded and upserted per round.
const DefaultBatchSize = 64

// scanProgressEvery throttles scanning-stage progress updates.
const scanProgressEvery = 100

// Indexer drives the ingest pass: scan the stream, diff against the checksum
// map, embed and upsert what changed, then record the new checksums.
//
// Ordering inside each batch is fixed: vectors first, checksums second. A
// crash between the two leaves vectors without checksums, which the next run
// re-indexes harmlessly; the converse order would silently lose data.
type Indexer struct {
	checksums interfaces.ChecksumStore
	vectors   interfaces.VectorStore
	embedder  interfaces.Embedder
	batchSize int
	logger    arbor.ILogger
}

// New creates an indexer. batchSize <= 0 selects the default.
func New(checksums interfaces.ChecksumStore, vectors interfaces.VectorStore, embedder interfaces.Embedder, batchSize int, logger arbor.ILogger) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{
		checksums: checksums,
		vectors:   vectors,
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger,
	}
}

// IndexStream runs the full pass over a source. Every progress call is a
// cancellation checkpoint; progress total is the scanned item count and done
// counts indexed items.
func (ix *Indexer) IndexStream(ctx context.Context, source interfaces.Source, force bool, progress interfaces.ProgressFunc) error {
	items, err := ix.scan(ctx, source, progress)
	if err != nil {
		return err
	}

	changed, err := ix.filter(ctx, items, force)
	if err != nil {
		return err
	}

	total := len(items)
	if len(changed) == 0 {
		if err := progress(interfaces.ProgressUpdate{
			Stage: interfaces.StageDone,
			Done:  interfaces.Count(0),
			Total: interfaces.Count(total),
			Note:  "no changes",
		}); err != nil {
			return err
		}
		ix.logger.Info().Int("scanned", total).Msg("Index pass found no changes")
		return nil
	}

	if err := progress(interfaces.ProgressUpdate{
		Stage: interfaces.StageFiltered,
		Done:  interfaces.Count(0),
		Total: interfaces.Count(total),
		Note:  fmt.Sprintf("%d of %d changed", len(changed), total),
	}); err != nil {
		return err
	}

	indexed := 0
	for start := 0; start < len(changed); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(changed) {
			end = len(changed)
		}
		batch := changed[start:end]

		if err := progress(interfaces.ProgressUpdate{
			Stage: interfaces.StageIndexing,
			Done:  interfaces.Count(indexed),
			Total: interfaces.Count(total),
		}); err != nil {
			return err
		}

		if err := ix.indexBatch(ctx, batch); err != nil {
			return err
		}
		indexed += len(batch)

		if err := progress(interfaces.ProgressUpdate{
			Stage: interfaces.StageIndexed,
			Done:  interfaces.Count(indexed),
			Total: interfaces.Count(total),
		}); err != nil {
			return err
		}
	}

	ix.logger.Info().Int("scanned", total).Int("indexed", indexed).Msg("Index pass complete")
	return progress(interfaces.ProgressUpdate{
		Stage: interfaces.StageDone,
		Done:  interfaces.Count(indexed),
		Total: interfaces.Count(total),
	})
}

// RefreshChecksums is the checksum-only pass: same scan and diff, but the
// embed and vector stages are skipped and only the checksum map is updated.
func (ix *Indexer) RefreshChecksums(ctx context.Context, source interfaces.Source, force bool, progress interfaces.ProgressFunc) error {
	items, err := ix.scan(ctx, source, progress)
	if err != nil {
		return err
	}

	changed, err := ix.filter(ctx, items, force)
	if err != nil {
		return err
	}

	total := len(items)
	if len(changed) == 0 {
		return progress(interfaces.ProgressUpdate{
			Stage: interfaces.StageDone,
			Done:  interfaces.Count(0),
			Total: interfaces.Count(total),
			Note:  "no changes",
		})
	}

	if err := progress(interfaces.ProgressUpdate{
		Stage: "checksums",
		Done:  interfaces.Count(0),
		Total: interfaces.Count(total),
	}); err != nil {
		return err
	}
	if err := ix.checksums.UpsertMany(ctx, checksumRecords(changed)); err != nil {
		return err
	}

	ix.logger.Info().Int("scanned", total).Int("refreshed", len(changed)).Msg("Checksum refresh complete")
	return progress(interfaces.ProgressUpdate{
		Stage: interfaces.StageDone,
		Done:  interfaces.Count(len(changed)),
		Total: interfaces.Count(total),
	})
}

// scan drains the source into memory, reporting coarse progress.
func (ix *Indexer) scan(ctx context.Context, source interfaces.Source, progress interfaces.ProgressFunc) ([]models.IngestItem, error) {
	if err := progress(interfaces.ProgressUpdate{Stage: interfaces.StageScanning, Done: interfaces.Count(0)}); err != nil {
		return nil, err
	}

	var items []models.IngestItem
	err := source.Stream(ctx, func(item models.IngestItem) error {
		items = append(items, item)
		if len(items)%scanProgressEvery == 0 {
			return progress(interfaces.ProgressUpdate{
				Stage: interfaces.StageScanning,
				Done:  interfaces.Count(len(items)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, progress(interfaces.ProgressUpdate{
		Stage: interfaces.StageScanning,
		Done:  interfaces.Count(len(items)),
		Total: interfaces.Count(len(items)),
	})
}

// filter drops items whose stored checksum already matches, unless forced.
func (ix *Indexer) filter(ctx context.Context, items []models.IngestItem, force bool) ([]models.IngestItem, error) {
	if force {
		return items, nil
	}
	known, err := ix.checksums.LoadMap(ctx)
	if err != nil {
		return nil, err
	}
	var changed []models.IngestItem
	for _, item := range items {
		if known[item.DocID] == item.Checksum {
			continue
		}
		changed = append(changed, item)
	}
	return changed, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []models.IngestItem) error {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.Text
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d items", len(embeddings), len(batch))
	}

	rows := make([]models.VectorRow, len(batch))
	for i, item := range batch {
		rows[i] = models.VectorRow{
			NodeID:    item.DocID,
			Text:      item.Text,
			Metadata:  item.Metadata,
			Embedding: embeddings[i],
		}
	}
	if err := ix.vectors.UpsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	if err := ix.checksums.UpsertMany(ctx, checksumRecords(batch)); err != nil {
		return fmt.Errorf("failed to upsert checksums: %w", err)
	}
	return nil
}

func checksumRecords(items []models.IngestItem) []models.ChecksumRecord {
	now := time.Now().UTC()
	records := make([]models.ChecksumRecord, len(items))
	for i, item := range items {
		records[i] = models.ChecksumRecord{
			DocID:     item.DocID,
			Checksum:  item.Checksum,
			UpdatedAt: now,
		}
	}
	return records
}
