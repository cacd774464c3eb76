package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

type checksumRecord struct {
	DocID     string `badgerhold:"key"`
	Checksum  string
	UpdatedAt time.Time
}

// ChecksumStore persists the doc_id -> checksum map in Badger.
type ChecksumStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ChecksumStore = (*ChecksumStore)(nil)

// NewChecksumStore creates a checksum store over an open database.
func NewChecksumStore(db *BadgerDB, logger arbor.ILogger) *ChecksumStore {
	return &ChecksumStore{db: db, logger: logger}
}

// Ensure is a no-op; badgerhold needs no schema.
func (s *ChecksumStore) Ensure(ctx context.Context) error {
	return nil
}

// LoadMap reads the full checksum map into memory.
func (s *ChecksumStore) LoadMap(ctx context.Context) (map[string]string, error) {
	var recs []checksumRecord
	if err := s.db.Store().Find(&recs, &badgerhold.Query{}); err != nil {
		return nil, fmt.Errorf("failed to load checksums: %w", err)
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.DocID] = rec.Checksum
	}
	return out, nil
}

// UpsertMany writes the records one by one, last writer wins.
func (s *ChecksumStore) UpsertMany(ctx context.Context, records []models.ChecksumRecord) error {
	for _, rec := range records {
		stored := checksumRecord{
			DocID:     rec.DocID,
			Checksum:  rec.Checksum,
			UpdatedAt: rec.UpdatedAt,
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		if err := s.db.Store().Upsert(stored.DocID, &stored); err != nil {
			return fmt.Errorf("failed to upsert checksum for %s: %w", rec.DocID, err)
		}
	}
	return nil
}
