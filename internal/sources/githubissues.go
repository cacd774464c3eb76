package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// GitHubIssuesSource streams a repository's issues as one item each, with the
// issue HTML URL as doc_id. Pull requests are excluded.
type GitHubIssuesSource struct {
	Repo            string
	State           string
	Labels          []string
	IncludeComments bool

	client *github.Client
	logger arbor.ILogger
}

// NewGitHubIssuesSource builds the issues adapter.
func NewGitHubIssuesSource(client *github.Client, repo string, logger arbor.ILogger) *GitHubIssuesSource {
	return &GitHubIssuesSource{
		Repo:   repo,
		State:  "all",
		client: client,
		logger: logger,
	}
}

// Stream pages through the issue list. A failed listing is structural; a
// failed comment fetch degrades the item to title and body only.
func (s *GitHubIssuesSource) Stream(ctx context.Context, emit func(models.IngestItem) error) error {
	owner, name, repoURL, err := parseRepoURL(s.Repo)
	if err != nil {
		return err
	}

	state := s.State
	if state == "" {
		state = "all"
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      s.Labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		issues, resp, err := s.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return fmt.Errorf("failed to list issues of %s: %w", repoURL, err)
		}
		for _, issue := range issues {
			if err := ctx.Err(); err != nil {
				return err
			}
			if issue.IsPullRequest() {
				continue
			}
			item, err := s.buildItem(ctx, owner, name, repoURL, issue)
			if err != nil {
				return err
			}
			if err := emit(item); err != nil {
				return err
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return nil
}

func (s *GitHubIssuesSource) buildItem(ctx context.Context, owner, name, repoURL string, issue *github.Issue) (models.IngestItem, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", issue.GetTitle(), issue.GetBody())

	if s.IncludeComments && issue.GetComments() > 0 {
		comments, _, err := s.client.Issues.ListComments(ctx, owner, name, issue.GetNumber(),
			&github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}})
		if err != nil {
			s.logger.Warn().Err(err).Int("issue", issue.GetNumber()).Msg("Skipping comments fetch failure")
		}
		for _, c := range comments {
			fmt.Fprintf(&b, "\n---\n**%s** commented:\n\n%s\n", c.GetUser().GetLogin(), c.GetBody())
		}
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	md := models.Metadata{
		models.MetaSourceURL:   issue.GetHTMLURL(),
		models.MetaRepo:        repoURL,
		models.MetaIssueNumber: issue.GetNumber(),
		models.MetaState:       issue.GetState(),
		models.MetaTitle:       issue.GetTitle(),
	}
	if len(labels) > 0 {
		md[models.MetaLabels] = labels
	}

	return models.NewIngestItem(issue.GetHTMLURL(), b.String(), md), nil
}
