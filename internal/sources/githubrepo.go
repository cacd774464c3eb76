package sources

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// GitHubRepoSource streams repository files over the GitHub API without a
// local clone: one recursive tree listing, then a raw blob fetch per allowed
// file. doc_ids match the clone-based adapter for the same repo.
type GitHubRepoSource struct {
	Repo   string
	Branch string
	Exts   []string

	client *github.Client
	logger arbor.ILogger
}

// NewGitHubRepoSource builds the API-based repository adapter.
func NewGitHubRepoSource(client *github.Client, repo, branch string, exts []string, logger arbor.ILogger) *GitHubRepoSource {
	return &GitHubRepoSource{
		Repo:   repo,
		Branch: branch,
		Exts:   exts,
		client: client,
		logger: logger,
	}
}

// Stream lists the tree and fetches blobs. Individual blob failures are
// skipped; a failed tree listing is structural and aborts.
func (s *GitHubRepoSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	owner, name, repoURL, err := parseRepoURL(s.Repo)
	if err != nil {
		return err
	}

	branch := s.Branch
	if branch == "" {
		repo, _, err := s.client.Repositories.Get(ctx, owner, name)
		if err != nil {
			return fmt.Errorf("failed to resolve repository %s: %w", repoURL, err)
		}
		branch = repo.GetDefaultBranch()
	}

	tree, _, err := s.client.Git.GetTree(ctx, owner, name, branch, true)
	if err != nil {
		return fmt.Errorf("failed to list tree of %s@%s: %w", repoURL, branch, err)
	}
	if tree.GetTruncated() {
		s.logger.Warn().Str("repo", repoURL).Msg("Tree listing truncated by API; some files will be missed")
	}

	exts := s.Exts
	if len(exts) == 0 {
		exts = DefaultExts
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = struct{}{}
	}

	for _, entry := range tree.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.GetType() != "blob" {
			continue
		}
		filePath := entry.GetPath()
		if _, ok := allowed[strings.ToLower(path.Ext(filePath))]; !ok {
			continue
		}

		data, _, err := s.client.Git.GetBlobRaw(ctx, owner, name, entry.GetSHA())
		if err != nil {
			s.logger.Warn().Err(err).Str("repo", repoURL).Str("path", filePath).Msg("Skipping blob fetch failure")
			continue
		}

		md := models.Metadata{
			models.MetaRepo:      repoURL,
			models.MetaFilePath:  filePath,
			models.MetaBranch:    branch,
			models.MetaSourceURL: fmt.Sprintf("%s/blob/%s/%s", repoURL, branch, filePath),
		}
		text := strings.ToValidUTF8(string(data), "")
		if err := emit(models.NewIngestItem(repoURL+"@"+filePath, text, md)); err != nil {
			return err
		}
	}
	return nil
}
