// -----------------------------------------------------------------------
// Ingest Item - Canonical document record produced by source adapters
// -----------------------------------------------------------------------

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Reserved metadata keys. Identity is always DocID; source_url and file_path
// are display hints only.
const (
	MetaSourceURL     = "source_url"
	MetaRepo          = "repo"
	MetaFilePath      = "file_path"
	MetaBranch        = "branch"
	MetaCommitSHA     = "commit_sha"
	MetaCommitDate    = "commit_date"
	MetaCommitAuthor  = "commit_author"
	MetaCommitMessage = "commit_message"
	MetaParentID      = "parent_id"
	MetaChunkIndex    = "chunk_index"
	MetaChunkTotal    = "chunk_total"
	MetaIssueNumber   = "issue_number"
	MetaState         = "state"
	MetaLabels        = "labels"
	MetaTitle         = "title"
)

// Metadata is a string-keyed map of small scalar/list values attached to an item.
type Metadata map[string]interface{}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetString retrieves a string value from metadata.
func (m Metadata) GetString(key string) (string, bool) {
	val, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// IngestItem is the atomic unit of indexing. Two items with different content
// must not share a DocID; the same logical document across runs must produce
// the same DocID.
type IngestItem struct {
	DocID    string   `json:"doc_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Checksum string   `json:"checksum"`
}

// NewIngestItem builds an item and computes its checksum from the text bytes.
func NewIngestItem(docID, text string, metadata Metadata) IngestItem {
	if metadata == nil {
		metadata = make(Metadata)
	}
	return IngestItem{
		DocID:    docID,
		Text:     text,
		Metadata: metadata,
		Checksum: ChecksumOf(text),
	}
}

// ChecksumOf returns the lowercase hex SHA-256 of the exact UTF-8 bytes of text.
func ChecksumOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Manifest is an immutable serialized batch of ingest items, referenced by an
// opaque artifact key once stored.
type Manifest struct {
	Count int          `json:"count"`
	Items []IngestItem `json:"items"`
}

// NewManifest wraps items into a manifest with the count stamped.
func NewManifest(items []IngestItem) *Manifest {
	return &Manifest{
		Count: len(items),
		Items: items,
	}
}

// KeepSet returns the set of doc_ids present in the manifest.
func (m *Manifest) KeepSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Items))
	for _, item := range m.Items {
		set[item.DocID] = struct{}{}
	}
	return set
}

// Repos returns the distinct metadata.repo values across the manifest's items.
func (m *Manifest) Repos() []string {
	seen := make(map[string]struct{})
	var repos []string
	for _, item := range m.Items {
		repo, ok := item.Metadata.GetString(MetaRepo)
		if !ok || repo == "" {
			continue
		}
		if _, dup := seen[repo]; dup {
			continue
		}
		seen[repo] = struct{}{}
		repos = append(repos, repo)
	}
	return repos
}

// ToJSON serializes the manifest to its UTF-8 JSON wire format.
func (m *Manifest) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// ManifestFromJSON deserializes a manifest from its wire format.
func ManifestFromJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}
