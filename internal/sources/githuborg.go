package sources

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// GitHubOrgSource fans out over an organization's repositories, streaming
// each through the API-based repository adapter. Archived repositories are
// excluded unless requested; a topics filter requires all listed topics.
type GitHubOrgSource struct {
	Org             string
	Visibility      string
	IncludeArchived bool
	Topics          []string
	Branch          string
	Exts            []string

	client *github.Client
	logger arbor.ILogger
}

// NewGitHubOrgSource builds the organization adapter.
func NewGitHubOrgSource(client *github.Client, org string, logger arbor.ILogger) *GitHubOrgSource {
	return &GitHubOrgSource{
		Org:        org,
		Visibility: "all",
		client:     client,
		logger:     logger,
	}
}

// Stream lists the organization (a failure here is structural) and then
// streams each matching repository.
func (s *GitHubOrgSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	visibility := s.Visibility
	if visibility == "" {
		visibility = "all"
	}

	opts := &github.RepositoryListByOrgOptions{
		Type:        visibility,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var selected []*github.Repository
	for {
		repos, resp, err := s.client.Repositories.ListByOrg(ctx, s.Org, opts)
		if err != nil {
			return fmt.Errorf("failed to list repositories of %s: %w", s.Org, err)
		}
		for _, repo := range repos {
			if repo.GetArchived() && !s.IncludeArchived {
				continue
			}
			if !hasAllTopics(repo.Topics, s.Topics) {
				continue
			}
			selected = append(selected, repo)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	s.logger.Info().Str("org", s.Org).Int("repos", len(selected)).Msg("Streaming organization repositories")

	for _, repo := range selected {
		sub := NewGitHubRepoSource(s.client, repo.GetHTMLURL(), s.Branch, s.Exts, s.logger)
		if err := sub.Stream(ctx, emit); err != nil {
			return fmt.Errorf("failed to stream %s: %w", repo.GetFullName(), err)
		}
	}
	return nil
}

func hasAllTopics(repoTopics, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(repoTopics))
	for _, t := range repoTopics {
		have[t] = struct{}{}
	}
	for _, t := range wanted {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}
