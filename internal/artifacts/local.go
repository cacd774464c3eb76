package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// LocalStore persists manifests as manifest-<key>.json files under a
// directory. Writes go to a temp file in the same directory and are renamed
// into place so a stored key never refers to a partial blob.
type LocalStore struct {
	dir    string
	logger arbor.ILogger
}

var _ interfaces.ArtifactStore = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed and returns the store.
func NewLocalStore(dir string, logger arbor.ILogger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

// PutManifest serializes the manifest and returns its freshly generated key.
func (s *LocalStore) PutManifest(ctx context.Context, m *models.Manifest) (string, error) {
	data, err := m.ToJSON()
	if err != nil {
		return "", err
	}

	key := newKey()
	final := filepath.Join(s.dir, fileName(key))

	tmp, err := os.CreateTemp(s.dir, fileName(key)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Int("items", m.Count).
		Int("bytes", len(data)).
		Msg("Stored manifest artifact")

	return key, nil
}

// GetManifest loads and deserializes a manifest by key.
func (s *LocalStore) GetManifest(ctx context.Context, key string) (*models.Manifest, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, fileName(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrManifestNotFound, key)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return models.ManifestFromJSON(data)
}

func fileName(key string) string {
	return "manifest-" + key + ".json"
}

// newKey returns a sortable opaque key: UTC timestamp plus a UUID suffix.
func newKey() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()
}

// validateKey rejects keys that could escape the artifact directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("artifact key cannot be empty")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key: %q", key)
	}
	return nil
}
