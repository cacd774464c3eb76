package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// NewGitHubClient builds an API client, authenticated when a token is set.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// parseRepoURL extracts owner and name from a repository URL or an
// "owner/name" shorthand, returning the canonical https URL alongside.
func parseRepoURL(repo string) (owner, name, canonical string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repo, "/"), ".git")
	host := "github.com"

	if i := strings.Index(trimmed, "://"); i >= 0 {
		rest := trimmed[i+3:]
		if j := strings.LastIndex(rest, "@"); j >= 0 {
			rest = rest[j+1:]
		}
		parts := strings.Split(rest, "/")
		if len(parts) < 3 {
			return "", "", "", fmt.Errorf("invalid repository url: %s", publicRepoURL(repo))
		}
		host = parts[0]
		owner = parts[1]
		name = parts[2]
	} else {
		parts := strings.Split(trimmed, "/")
		if len(parts) != 2 {
			return "", "", "", fmt.Errorf("invalid repository reference: %s", repo)
		}
		owner = parts[0]
		name = parts[1]
	}

	if owner == "" || name == "" {
		return "", "", "", fmt.Errorf("invalid repository reference: %s", publicRepoURL(repo))
	}
	return owner, name, fmt.Sprintf("https://%s/%s/%s", host, owner, name), nil
}
