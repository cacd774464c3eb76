package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const checksumsSchema = `
CREATE TABLE IF NOT EXISTS colligo_checksums (
    doc_id     TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ChecksumStore persists the doc_id -> checksum map in postgres.
type ChecksumStore struct {
	db     *Pool
	logger arbor.ILogger
}

var _ interfaces.ChecksumStore = (*ChecksumStore)(nil)

// NewChecksumStore creates a checksum store over an open pool.
func NewChecksumStore(db *Pool, logger arbor.ILogger) *ChecksumStore {
	return &ChecksumStore{db: db, logger: logger}
}

// Ensure creates the checksums table.
func (s *ChecksumStore) Ensure(ctx context.Context) error {
	if _, err := s.db.Pgx().Exec(ctx, checksumsSchema); err != nil {
		return fmt.Errorf("failed to ensure checksums table: %w", err)
	}
	return nil
}

// LoadMap reads the full checksum map into memory.
func (s *ChecksumStore) LoadMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Pgx().Query(ctx, `SELECT doc_id, checksum FROM colligo_checksums`)
	if err != nil {
		return nil, fmt.Errorf("failed to load checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var docID, checksum string
		if err := rows.Scan(&docID, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan checksum row: %w", err)
		}
		out[docID] = checksum
	}
	return out, rows.Err()
}

// UpsertMany writes the records in one batch, last writer wins per doc_id.
func (s *ChecksumStore) UpsertMany(ctx context.Context, records []models.ChecksumRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		updatedAt := rec.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		batch.Queue(`
INSERT INTO colligo_checksums (doc_id, checksum, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (doc_id) DO UPDATE
SET checksum = EXCLUDED.checksum, updated_at = EXCLUDED.updated_at`,
			rec.DocID, rec.Checksum, updatedAt)
	}

	results := s.db.Pgx().SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert checksum: %w", err)
		}
	}
	return nil
}
