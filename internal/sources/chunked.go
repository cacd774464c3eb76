package sources

import (
	"context"
	"fmt"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Default chunking parameters used when a payload enables chunking without
// specifying them.
const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// ChunkingSource wraps a source and emits overlapping chunks for items whose
// text exceeds ChunkSize. Short items pass through unchanged with their
// original doc_id.
type ChunkingSource struct {
	Source    interfaces.Source
	ChunkSize int
	Overlap   int
}

// NewChunkingSource applies defaults for missing parameters.
func NewChunkingSource(source interfaces.Source, chunkSize, overlap int) *ChunkingSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	return &ChunkingSource{Source: source, ChunkSize: chunkSize, Overlap: overlap}
}

// Stream emits chunk items with derived ids. chunk_total is counted before
// any chunk of an item is emitted, so it is final.
func (s *ChunkingSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	return s.Source.Stream(ctx, func(item models.IngestItem) error {
		chunks := SplitChunks(item.Text, s.ChunkSize, s.Overlap)
		if len(chunks) == 1 {
			return emit(item)
		}
		total := len(chunks)
		for idx, text := range chunks {
			md := item.Metadata.Clone()
			md[models.MetaParentID] = item.DocID
			md[models.MetaChunkIndex] = idx
			md[models.MetaChunkTotal] = total
			chunk := models.NewIngestItem(fmt.Sprintf("%s#c%d", item.DocID, idx), text, md)
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompositeSource streams each child source in order.
type CompositeSource struct {
	Sources []interfaces.Source
}

// Stream yields all items of all child sources.
func (s *CompositeSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	for _, src := range s.Sources {
		if err := src.Stream(ctx, emit); err != nil {
			return err
		}
	}
	return nil
}
