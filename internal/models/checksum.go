package models

import "time"

// ChecksumRecord maps a doc_id to the checksum of its last indexed content.
// After a successful indexing pass the store holds exactly one row per item
// with its current checksum.
type ChecksumRecord struct {
	DocID     string    `json:"doc_id"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VectorRow is the unit written to the vector store, keyed by NodeID (= doc_id).
type VectorRow struct {
	NodeID    string    `json:"node_id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
}
