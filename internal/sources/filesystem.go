package sources

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// DefaultExts is the file-extension allowlist applied when a source spec does
// not carry one.
var DefaultExts = []string{".md", ".go", ".py", ".yml", ".yaml", ".toml", ".json", ".txt"}

// FilesystemSource walks a directory tree and yields one item per allowed
// file. doc_id is "<repo_url>@<relative_path>" so the same file keeps its
// identity across runs and machines.
type FilesystemSource struct {
	Root    string
	RepoURL string
	Branch  string
	Exts    []string

	// Commit metadata stamped onto every item, populated by the git adapter.
	Commit models.Metadata

	logger arbor.ILogger
}

// NewFilesystemSource builds the adapter for a local directory.
func NewFilesystemSource(root, repoURL string, exts []string, logger arbor.ILogger) *FilesystemSource {
	return &FilesystemSource{
		Root:    root,
		RepoURL: repoURL,
		Exts:    exts,
		logger:  logger,
	}
}

// Stream walks the tree in lexical order. Unreadable files are skipped; a
// missing root is a structural failure.
func (s *FilesystemSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	if _, err := os.Stat(s.Root); err != nil {
		return fmt.Errorf("source directory unavailable: %w", err)
	}

	exts := s.Exts
	if len(exts) == 0 {
		exts = DefaultExts
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = struct{}{}
	}

	repoURL := strings.TrimSuffix(s.RepoURL, "/")
	branch := s.Branch
	if branch == "" {
		branch = "main"
	}

	return filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable file")
			return nil
		}

		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		md := models.Metadata{
			models.MetaRepo:      repoURL,
			models.MetaFilePath:  rel,
			models.MetaSourceURL: fmt.Sprintf("%s/blob/%s/%s", repoURL, branch, rel),
		}
		for k, v := range s.Commit {
			md[k] = v
		}

		text := strings.ToValidUTF8(string(data), "")
		return emit(models.NewIngestItem(repoURL+"@"+rel, text, md))
	})
}
