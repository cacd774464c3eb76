package sources

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Factory builds source adapters from source specs, injecting the shared
// fetcher, tokens, and configured defaults.
type Factory struct {
	cfg     *common.Config
	fetcher *Fetcher
	logger  arbor.ILogger
}

// NewFactory creates a factory over the application configuration.
func NewFactory(cfg *common.Config, logger arbor.ILogger) *Factory {
	return &Factory{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.Crawler, logger),
		logger:  logger,
	}
}

// FromSpec builds one adapter. The spec must already be validated; unknown
// types are still rejected defensively.
func (f *Factory) FromSpec(ctx context.Context, spec models.SourceSpec) (interfaces.Source, error) {
	switch spec.Type {
	case models.SourceTypeGitHubRepo:
		client := NewGitHubClient(ctx, f.cfg.GitHub.Token)
		return NewGitHubRepoSource(client, spec.Repo, spec.Branch, f.exts(spec.Exts), f.logger), nil

	case models.SourceTypeGitHubRepoLocal:
		// Clones are shallow unless the spec says otherwise.
		src := NewGitRepoLocalSource(spec.Repo, spec.Branch, f.exts(spec.Exts), f.cfg.GitHub.Token, f.logger)
		if spec.Shallow != nil {
			src.Shallow = *spec.Shallow
		}
		if spec.FetchDepth > 0 {
			src.FetchDepth = spec.FetchDepth
		}
		return src, nil

	case models.SourceTypeGitHubOrg:
		client := NewGitHubClient(ctx, f.cfg.GitHub.Token)
		src := NewGitHubOrgSource(client, spec.Org, f.logger)
		if spec.Visibility != "" {
			src.Visibility = spec.Visibility
		}
		src.IncludeArchived = spec.IncludeArchived
		src.Topics = spec.Topics
		src.Branch = spec.Branch
		src.Exts = f.exts(spec.Exts)
		return src, nil

	case models.SourceTypeGitHubIssues:
		client := NewGitHubClient(ctx, f.cfg.GitHub.Token)
		src := NewGitHubIssuesSource(client, spec.Repo, f.logger)
		if spec.State != "" {
			src.State = spec.State
		}
		src.Labels = spec.Labels
		src.IncludeComments = spec.IncludeComments
		return src, nil

	case models.SourceTypeLocalDir:
		return NewFilesystemSource(spec.Path, spec.RepoURL, f.exts(spec.Exts), f.logger), nil

	case models.SourceTypeWebURL:
		return NewURLSource(f.fetcher, spec.URLs, f.logger), nil

	case models.SourceTypeWebsite:
		src := NewWebsiteSource(f.fetcher, spec.StartURLs, f.logger)
		src.AllowedPrefixes = spec.AllowedPrefixes
		if spec.MaxPages > 0 {
			src.MaxPages = spec.MaxPages
		}
		return src, nil

	case models.SourceTypeSitemap:
		return NewSitemapSource(f.fetcher, spec.SitemapURL, spec.Limit, f.logger), nil

	default:
		return nil, fmt.Errorf("unknown source type: %q", spec.Type)
	}
}

// FromSpecs builds a composite over all specs, wrapped in chunking when
// chunkSize is positive. Chunk defaults come from configuration.
func (f *Factory) FromSpecs(ctx context.Context, specs []models.SourceSpec, chunkSize, overlap int) (interfaces.Source, error) {
	children := make([]interfaces.Source, 0, len(specs))
	for i, spec := range specs {
		src, err := f.FromSpec(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		children = append(children, src)
	}

	var source interfaces.Source = &CompositeSource{Sources: children}
	if chunkSize > 0 {
		if overlap <= 0 {
			overlap = f.cfg.Ingest.ChunkOverlap
		}
		source = NewChunkingSource(source, chunkSize, overlap)
	}
	return source, nil
}

func (f *Factory) exts(specExts []string) []string {
	if len(specExts) > 0 {
		return specExts
	}
	if len(f.cfg.Ingest.Exts) > 0 {
		return f.cfg.Ingest.Exts
	}
	return DefaultExts
}
