package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/postgres"
)

// deleteBatchSize bounds the node_id list per statement when deleting or
// resolving large candidate sets.
const deleteBatchSize = 1000

// Gateway owns mutation of the pgvector table shared with the query side.
// The table schema (node_id key, text, metadata_ jsonb, embedding vector) is
// the one the retrieval stack reads; this side only writes and deletes.
type Gateway struct {
	db     *postgres.Pool
	table  string
	dim    int
	logger arbor.ILogger
}

var _ interfaces.VectorStore = (*Gateway)(nil)

// NewGateway builds a gateway from configuration over an open pool.
func NewGateway(db *postgres.Pool, cfg common.VectorConfig, logger arbor.ILogger) (*Gateway, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("vector table name cannot be empty")
	}
	if !validTableName(cfg.TableName) {
		return nil, fmt.Errorf("invalid vector table name: %q", cfg.TableName)
	}
	if cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("embed_dim must be positive, got %d", cfg.EmbedDim)
	}
	return &Gateway{
		db:     db,
		table:  cfg.TableName,
		dim:    cfg.EmbedDim,
		logger: logger,
	}, nil
}

// EnsureReady creates the extension and table if missing and verifies that an
// existing table's declared embedding dimension matches the configured one.
// A mismatch is fatal: writing mixed-dimension vectors would corrupt retrieval.
func (g *Gateway) EnsureReady(ctx context.Context) error {
	if _, err := g.db.Pgx().Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to ensure pgvector extension: %w", err)
	}

	var tableDim *int
	err := g.db.Pgx().QueryRow(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`,
		g.table).Scan(&tableDim)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to inspect vector table: %w", err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    node_id   TEXT PRIMARY KEY,
    text      TEXT NOT NULL,
    metadata_ JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding VECTOR(%d)
)`, g.table, g.dim)
		if _, err := g.db.Pgx().Exec(ctx, create); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
		g.logger.Info().Str("table", g.table).Int("dim", g.dim).Msg("Created vector table")
		return nil
	}

	// pgvector stores the declared dimension as the column typmod.
	if tableDim != nil && *tableDim != g.dim {
		return fmt.Errorf("embedding dimension mismatch: table %s declares %d, configured %d",
			g.table, *tableDim, g.dim)
	}
	return nil
}

// UpsertBatch writes the rows keyed by node_id, replacing any previous row.
func (g *Gateway) UpsertBatch(ctx context.Context, rows []models.VectorRow) error {
	if len(rows) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`
INSERT INTO %s (node_id, text, metadata_, embedding)
VALUES ($1, $2, $3, $4::vector)
ON CONFLICT (node_id) DO UPDATE
SET text = EXCLUDED.text, metadata_ = EXCLUDED.metadata_, embedding = EXCLUDED.embedding`,
		g.table)

	batch := &pgx.Batch{}
	for _, row := range rows {
		if len(row.Embedding) != g.dim {
			return fmt.Errorf("embedding for %s has dimension %d, want %d",
				row.NodeID, len(row.Embedding), g.dim)
		}
		meta, err := json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", row.NodeID, err)
		}
		batch.Queue(stmt, row.NodeID, row.Text, meta, vecLiteral(row.Embedding))
	}

	results := g.db.Pgx().SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}
	}

	g.logger.Debug().Str("table", g.table).Int("rows", len(rows)).Msg("Upserted vector rows")
	return nil
}

// DeleteBatch removes rows by node_id in bounded statements. Absent IDs are
// ignored.
func (g *Gateway) DeleteBatch(ctx context.Context, nodeIDs []string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE node_id = ANY($1)`, g.table)
	for _, chunk := range chunkStrings(nodeIDs, deleteBatchSize) {
		if _, err := g.db.Pgx().Exec(ctx, stmt, chunk); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	return nil
}

// NodeIDsByRepo lists node_ids whose metadata repo is in the given set.
func (g *Gateway) NodeIDsByRepo(ctx context.Context, repos []string) ([]string, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	stmt := fmt.Sprintf(
		`SELECT node_id FROM %s WHERE metadata_->>'repo' = ANY($1)`, g.table)
	return g.collectIDs(ctx, stmt, repos)
}

// NodeIDsByPrefix lists node_ids matching any of the given prefixes.
func (g *Gateway) NodeIDsByPrefix(ctx context.Context, prefixes []string) ([]string, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	stmt := fmt.Sprintf(`SELECT node_id FROM %s WHERE node_id LIKE $1`, g.table)

	seen := make(map[string]struct{})
	var ids []string
	for _, prefix := range prefixes {
		got, err := g.collectIDs(ctx, stmt, escapeLike(prefix)+"%")
		if err != nil {
			return nil, err
		}
		for _, id := range got {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// NodeIDsIn lists which of the given node_ids exist in the table.
func (g *Gateway) NodeIDsIn(ctx context.Context, nodeIDs []string) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT node_id FROM %s WHERE node_id = ANY($1)`, g.table)
	var ids []string
	for _, chunk := range chunkStrings(nodeIDs, deleteBatchSize) {
		got, err := g.collectIDs(ctx, stmt, chunk)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

func (g *Gateway) collectIDs(ctx context.Context, stmt string, arg interface{}) ([]string, error) {
	rows, err := g.db.Pgx().Query(ctx, stmt, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query node ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// vecLiteral renders an embedding in pgvector's input format: [f1,f2,...].
func vecLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// chunkStrings splits ids into slices of at most size.
func chunkStrings(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// escapeLike escapes LIKE metacharacters so a prefix matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// validTableName restricts identifiers that get interpolated into SQL.
func validTableName(name string) bool {
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return name != ""
}
