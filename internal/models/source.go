// -----------------------------------------------------------------------
// Source Spec - Tagged source configuration carried in job payloads
// -----------------------------------------------------------------------

package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SourceType discriminates SourceSpec variants.
type SourceType string

const (
	SourceTypeGitHubRepo      SourceType = "github_repo"
	SourceTypeGitHubRepoLocal SourceType = "github_repo_local"
	SourceTypeGitHubOrg       SourceType = "github_org"
	SourceTypeGitHubIssues    SourceType = "github_issues"
	SourceTypeLocalDir        SourceType = "local_dir"
	SourceTypeWebURL          SourceType = "web_url"
	SourceTypeWebsite         SourceType = "website"
	SourceTypeSitemap         SourceType = "sitemap"
)

var specValidate = validator.New(validator.WithRequiredStructEnabled())

// SourceSpec is the tagged union describing one ingestion source. Only the
// fields relevant to Type are consulted; Validate enforces per-type
// requirements exhaustively so a bad spec fails at enqueue time.
type SourceSpec struct {
	Type SourceType `json:"type" validate:"required"`

	// github_repo / github_repo_local / github_issues
	Repo   string   `json:"repo,omitempty" validate:"omitempty,url"`
	Branch string   `json:"branch,omitempty"`
	Exts   []string `json:"exts,omitempty"`

	// github_repo_local. Shallow nil means shallow depth-1, the default;
	// an explicit false requests a full clone.
	Shallow    *bool `json:"shallow,omitempty"`
	FetchDepth int   `json:"fetch_depth,omitempty" validate:"omitempty,min=1"`

	// github_org
	Org             string   `json:"org,omitempty"`
	Visibility      string   `json:"visibility,omitempty" validate:"omitempty,oneof=all public private"`
	IncludeArchived bool     `json:"include_archived,omitempty"`
	Topics          []string `json:"topics,omitempty"`

	// github_issues
	State           string   `json:"state,omitempty" validate:"omitempty,oneof=all open closed"`
	Labels          []string `json:"labels,omitempty"`
	IncludeComments bool     `json:"include_comments,omitempty"`

	// local_dir
	Path    string `json:"path,omitempty"`
	RepoURL string `json:"repo_url,omitempty" validate:"omitempty,url"`

	// web_url
	URLs []string `json:"urls,omitempty" validate:"omitempty,dive,url"`

	// website
	StartURLs       []string `json:"start_urls,omitempty" validate:"omitempty,dive,url"`
	AllowedPrefixes []string `json:"allowed_prefixes,omitempty"`
	MaxPages        int      `json:"max_pages,omitempty" validate:"omitempty,min=1"`

	// sitemap
	SitemapURL string `json:"sitemap_url,omitempty" validate:"omitempty,url"`
	Limit      int    `json:"limit,omitempty" validate:"omitempty,min=1"`
}

// Validate checks the spec against its declared type. Unknown types are
// rejected here rather than on the worker.
func (s *SourceSpec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid source spec: %w", err)
	}

	switch s.Type {
	case SourceTypeGitHubRepo, SourceTypeGitHubRepoLocal:
		if s.Repo == "" {
			return fmt.Errorf("%s source requires repo", s.Type)
		}
	case SourceTypeGitHubOrg:
		if s.Org == "" {
			return fmt.Errorf("github_org source requires org")
		}
	case SourceTypeGitHubIssues:
		if s.Repo == "" {
			return fmt.Errorf("github_issues source requires repo")
		}
	case SourceTypeLocalDir:
		if s.Path == "" {
			return fmt.Errorf("local_dir source requires path")
		}
		if s.RepoURL == "" {
			return fmt.Errorf("local_dir source requires repo_url")
		}
	case SourceTypeWebURL:
		if len(s.URLs) == 0 {
			return fmt.Errorf("web_url source requires urls")
		}
	case SourceTypeWebsite:
		if len(s.StartURLs) == 0 {
			return fmt.Errorf("website source requires start_urls")
		}
	case SourceTypeSitemap:
		if s.SitemapURL == "" {
			return fmt.Errorf("sitemap source requires sitemap_url")
		}
	default:
		return fmt.Errorf("unknown source type: %q", s.Type)
	}
	return nil
}
