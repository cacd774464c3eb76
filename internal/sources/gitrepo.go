package sources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// GitRepoLocalSource clones a repository into a scratch directory and streams
// it through the filesystem adapter. doc_ids use the public (credential-free)
// repository URL so local and API traversals of the same repo agree.
type GitRepoLocalSource struct {
	RepoURL    string
	Branch     string
	Exts       []string
	Shallow    bool
	FetchDepth int
	Token      string

	logger arbor.ILogger
}

// NewGitRepoLocalSource builds the clone-based adapter. Shallow clones with
// depth 1 are the default.
func NewGitRepoLocalSource(repoURL, branch string, exts []string, token string, logger arbor.ILogger) *GitRepoLocalSource {
	return &GitRepoLocalSource{
		RepoURL: repoURL,
		Branch:  branch,
		Exts:    exts,
		Shallow: true,
		Token:   token,
		logger:  logger,
	}
}

// Stream clones, walks, and removes the scratch clone.
func (s *GitRepoLocalSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	tmpDir, err := os.MkdirTemp("", "colligo-clone-*")
	if err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dest := filepath.Join(tmpDir, repoName(s.RepoURL))
	if err := s.clone(ctx, dest); err != nil {
		return err
	}

	fsSource := NewFilesystemSource(dest, publicRepoURL(s.RepoURL), s.Exts, s.logger)
	fsSource.Branch = s.Branch
	fsSource.Commit = s.headCommit(ctx, dest)
	return fsSource.Stream(ctx, emit)
}

func (s *GitRepoLocalSource) clone(ctx context.Context, dest string) error {
	args := []string{"clone"}
	if s.Shallow {
		depth := s.FetchDepth
		if depth <= 0 {
			depth = 1
		}
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	if s.Branch != "" {
		args = append(args, "--branch", s.Branch)
	}
	args = append(args, cloneURL(s.RepoURL, s.Token), dest)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		// The clone URL may carry the token; report only the public URL.
		s.logger.Warn().Str("repo", publicRepoURL(s.RepoURL)).Str("output", scrubToken(string(out), s.Token)).Msg("Clone failed")
		return fmt.Errorf("failed to clone %s: %w", publicRepoURL(s.RepoURL), err)
	}
	return nil
}

// headCommit reads HEAD metadata from the clone; failures just drop the
// commit fields.
func (s *GitRepoLocalSource) headCommit(ctx context.Context, dest string) models.Metadata {
	cmd := exec.CommandContext(ctx, "git", "-C", dest, "log", "-1", "--format=%H%x00%cI%x00%an%x00%s")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "\x00", 4)
	if len(parts) != 4 {
		return nil
	}
	return models.Metadata{
		models.MetaCommitSHA:     parts[0],
		models.MetaCommitDate:    parts[1],
		models.MetaCommitAuthor:  parts[2],
		models.MetaCommitMessage: parts[3],
	}
}

// cloneURL embeds the token for https GitHub-style remotes.
func cloneURL(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, "https://") || strings.Contains(repoURL, "@") {
		return repoURL
	}
	return strings.Replace(repoURL, "https://", "https://"+token+":x-oauth-basic@", 1)
}

// publicRepoURL strips any userinfo from the URL for metadata and doc_ids.
func publicRepoURL(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	at := strings.LastIndex(trimmed, "@")
	if at < 0 {
		return trimmed
	}
	scheme := ""
	rest := trimmed
	if i := strings.Index(trimmed, "://"); i >= 0 {
		scheme = trimmed[:i+3]
		rest = trimmed[i+3:]
	}
	if j := strings.LastIndex(rest, "@"); j >= 0 {
		rest = rest[j+1:]
	}
	if scheme == "" {
		scheme = "https://"
	}
	return scheme + rest
}

func repoName(repoURL string) string {
	name := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "repo"
	}
	return name
}

func scrubToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
