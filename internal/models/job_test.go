package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIngestPayload() JobPayload {
	return JobPayload{
		Sources: []SourceSpec{{
			Type:    SourceTypeLocalDir,
			Path:    "/data/docs",
			RepoURL: "https://example.com/org/docs",
		}},
	}
}

func TestJobTypeValidity(t *testing.T) {
	for _, jobType := range KnownJobTypes() {
		assert.True(t, jobType.Valid(), string(jobType))
		assert.Equal(t, string(jobType), jobType.Queue())
	}
	assert.False(t, JobType("defragment").Valid())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCanceled.Terminal())
}

func TestPayloadValidation(t *testing.T) {
	payload := validIngestPayload()
	assert.NoError(t, payload.Validate(JobTypeIngest))
	assert.NoError(t, payload.Validate(JobTypeChecksumUpdate))

	// Unknown job type.
	assert.Error(t, payload.Validate("defragment"))

	// Neither artifact nor sources.
	empty := JobPayload{}
	assert.Error(t, empty.Validate(JobTypeIngest))

	// An artifact key alone is enough.
	artifact := JobPayload{ArtifactKey: "20240101T000000-abc"}
	assert.NoError(t, artifact.Validate(JobTypeIngest))

	// Bad source tags fail at validation, not dispatch.
	bad := JobPayload{Sources: []SourceSpec{{Type: "carrier_pigeon"}}}
	assert.Error(t, bad.Validate(JobTypeIngest))

	// Negative chunking parameters.
	negative := validIngestPayload()
	negative.ChunkSize = -1
	assert.Error(t, negative.Validate(JobTypeIngest))
}

func TestPruneScopeValidation(t *testing.T) {
	// Prune always needs a scope with at least one selector.
	payload := JobPayload{ArtifactKey: "k"}
	assert.Error(t, payload.Validate(JobTypePrune))

	payload.PruneScope = &PruneScope{}
	assert.Error(t, payload.Validate(JobTypePrune))

	payload.PruneScope = &PruneScope{MetadataRepoIn: []string{"https://example.com/org/docs"}}
	assert.NoError(t, payload.Validate(JobTypePrune))

	// Selectors that derive from a manifest require one; plain selectors
	// may prune without artifact_key or sources.
	noManifest := JobPayload{PruneScope: &PruneScope{DocIDPrefixes: []string{"r@"}}}
	assert.NoError(t, noManifest.Validate(JobTypePrune))

	fromManifest := JobPayload{PruneScope: &PruneScope{DocIDInFromManifest: true}}
	assert.Error(t, fromManifest.Validate(JobTypePrune))
	assert.True(t, fromManifest.PruneScope.NeedsManifest())
	assert.False(t, noManifest.PruneScope.NeedsManifest())
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := validIngestPayload()
	payload.ChunkSize = 2000
	payload.Force = true

	data, err := payload.ToJSON()
	require.NoError(t, err)

	decoded, err := JobPayloadFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestSourceSpecPerTypeRequirements(t *testing.T) {
	tests := []struct {
		name string
		spec SourceSpec
		ok   bool
	}{
		{"github_repo", SourceSpec{Type: SourceTypeGitHubRepo, Repo: "https://github.com/org/repo"}, true},
		{"github_repo missing repo", SourceSpec{Type: SourceTypeGitHubRepo}, false},
		{"github_org", SourceSpec{Type: SourceTypeGitHubOrg, Org: "org"}, true},
		{"github_org missing org", SourceSpec{Type: SourceTypeGitHubOrg}, false},
		{"github_issues", SourceSpec{Type: SourceTypeGitHubIssues, Repo: "https://github.com/org/repo", State: "open"}, true},
		{"github_issues bad state", SourceSpec{Type: SourceTypeGitHubIssues, Repo: "https://github.com/org/repo", State: "stale"}, false},
		{"local_dir missing repo_url", SourceSpec{Type: SourceTypeLocalDir, Path: "/data"}, false},
		{"web_url", SourceSpec{Type: SourceTypeWebURL, URLs: []string{"https://example.com/a"}}, true},
		{"web_url bad url", SourceSpec{Type: SourceTypeWebURL, URLs: []string{"not a url"}}, false},
		{"website", SourceSpec{Type: SourceTypeWebsite, StartURLs: []string{"https://example.com"}}, true},
		{"sitemap", SourceSpec{Type: SourceTypeSitemap, SitemapURL: "https://example.com/sitemap.xml"}, true},
		{"unknown", SourceSpec{Type: "carrier_pigeon"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
