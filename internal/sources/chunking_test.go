package sources

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func TestSplitChunksDisabled(t *testing.T) {
	text := strings.Repeat("x", 5000)
	assert.Equal(t, []string{text}, SplitChunks(text, 0, 200))
	assert.Equal(t, []string{text}, SplitChunks(text, -1, 200))
}

func TestSplitChunksShortText(t *testing.T) {
	chunks := SplitChunks("hello world", 2000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitChunksParagraphBoundaries(t *testing.T) {
	var paras []string
	for i := 0; i < 10; i++ {
		paras = append(paras, strings.Repeat(fmt.Sprintf("p%d ", i), 30))
	}
	text := strings.Join(paras, "\n\n")

	chunks := SplitChunks(text, 300, 50)
	require.Greater(t, len(chunks), 1)

	// Every paragraph survives somewhere.
	joined := strings.Join(chunks, "\n")
	for i := range paras {
		assert.Contains(t, joined, fmt.Sprintf("p%d", i))
	}

	// Overlap: each chunk after the first starts with the tail of its
	// predecessor.
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1]
		if len(prevTail) > 50 {
			prevTail = prevTail[len(prevTail)-50:]
		}
		assert.True(t, strings.HasPrefix(chunks[i], strings.TrimSpace(prevTail)),
			"chunk %d does not begin with predecessor tail", i)
	}
}

func TestSplitChunksNormalizesCRLF(t *testing.T) {
	chunks := SplitChunks("a\r\n\r\nb", 2000, 0)
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0], "\r")
}

type staticSource struct {
	items []models.IngestItem
}

func (s *staticSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	for _, item := range s.items {
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}

func collect(t *testing.T, src *ChunkingSource) []models.IngestItem {
	t.Helper()
	var out []models.IngestItem
	require.NoError(t, src.Stream(context.Background(), func(item models.IngestItem) error {
		out = append(out, item)
		return nil
	}))
	return out
}

func TestChunkingSourcePassesShortItemsThrough(t *testing.T) {
	item := models.NewIngestItem("doc", "short text", models.Metadata{"repo": "r"})
	src := NewChunkingSource(&staticSource{items: []models.IngestItem{item}}, 2000, 200)

	out := collect(t, src)
	require.Len(t, out, 1)
	assert.Equal(t, item, out[0])
}

func TestChunkingSourceDerivesChunkItems(t *testing.T) {
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, strings.Repeat("word ", 40))
	}
	parent := models.NewIngestItem("parent-doc", strings.Join(paras, "\n\n"), models.Metadata{"repo": "r"})
	src := NewChunkingSource(&staticSource{items: []models.IngestItem{parent}}, 400, 80)

	out := collect(t, src)
	require.Greater(t, len(out), 1)

	total := len(out)
	for idx, chunk := range out {
		assert.Equal(t, fmt.Sprintf("parent-doc#c%d", idx), chunk.DocID)
		assert.Equal(t, "parent-doc", chunk.Metadata[models.MetaParentID])
		assert.Equal(t, idx, chunk.Metadata[models.MetaChunkIndex])
		assert.Equal(t, total, chunk.Metadata[models.MetaChunkTotal])
		assert.Equal(t, "r", chunk.Metadata["repo"])
		assert.Equal(t, models.ChecksumOf(chunk.Text), chunk.Checksum)
	}

	// Parent metadata is not mutated.
	assert.NotContains(t, parent.Metadata, models.MetaParentID)
}

func TestCompositeSourceOrder(t *testing.T) {
	a := models.NewIngestItem("a", "1", nil)
	b := models.NewIngestItem("b", "2", nil)
	composite := &CompositeSource{Sources: []interfaces.Source{
		&staticSource{items: []models.IngestItem{a}},
		&staticSource{items: []models.IngestItem{b}},
	}}

	var ids []string
	require.NoError(t, composite.Stream(context.Background(), func(item models.IngestItem) error {
		ids = append(ids, item.DocID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, ids)
}
