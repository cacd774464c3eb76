package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func testFactory() *Factory {
	return NewFactory(common.NewDefaultConfig(), arbor.NewLogger())
}

func TestFactoryBuildsEveryKnownType(t *testing.T) {
	specs := []models.SourceSpec{
		{Type: models.SourceTypeGitHubRepo, Repo: "https://github.com/o/r"},
		{Type: models.SourceTypeGitHubRepoLocal, Repo: "https://github.com/o/r"},
		{Type: models.SourceTypeGitHubOrg, Org: "o"},
		{Type: models.SourceTypeGitHubIssues, Repo: "https://github.com/o/r"},
		{Type: models.SourceTypeLocalDir, Path: t.TempDir(), RepoURL: "https://host/o/r"},
		{Type: models.SourceTypeWebURL, URLs: []string{"https://docs.example/"}},
		{Type: models.SourceTypeWebsite, StartURLs: []string{"https://docs.example/"}},
		{Type: models.SourceTypeSitemap, SitemapURL: "https://docs.example/sitemap.xml"},
	}

	factory := testFactory()
	for _, spec := range specs {
		src, err := factory.FromSpec(context.Background(), spec)
		require.NoError(t, err, "type %s", spec.Type)
		assert.NotNil(t, src)
	}
}

func TestFactoryAppliesCloneOptions(t *testing.T) {
	factory := testFactory()
	base := models.SourceSpec{Type: models.SourceTypeGitHubRepoLocal, Repo: "https://github.com/o/r"}

	src, err := factory.FromSpec(context.Background(), base)
	require.NoError(t, err)
	local := src.(*GitRepoLocalSource)
	assert.True(t, local.Shallow, "shallow is the default when the spec is silent")

	full := base
	shallow := false
	full.Shallow = &shallow
	src, err = factory.FromSpec(context.Background(), full)
	require.NoError(t, err)
	assert.False(t, src.(*GitRepoLocalSource).Shallow)

	deep := base
	deep.FetchDepth = 5
	src, err = factory.FromSpec(context.Background(), deep)
	require.NoError(t, err)
	local = src.(*GitRepoLocalSource)
	assert.True(t, local.Shallow)
	assert.Equal(t, 5, local.FetchDepth)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := testFactory().FromSpec(context.Background(), models.SourceSpec{Type: "carrier_pigeon"})
	assert.Error(t, err)
}

func TestFromSpecsWrapsChunking(t *testing.T) {
	factory := testFactory()
	specs := []models.SourceSpec{{Type: models.SourceTypeWebURL, URLs: []string{"https://x.example/"}}}

	src, err := factory.FromSpecs(context.Background(), specs, 500, 0)
	require.NoError(t, err)
	chunked, ok := src.(*ChunkingSource)
	require.True(t, ok)
	assert.Equal(t, 500, chunked.ChunkSize)
	assert.Equal(t, factory.cfg.Ingest.ChunkOverlap, chunked.Overlap)

	plain, err := factory.FromSpecs(context.Background(), specs, 0, 0)
	require.NoError(t, err)
	_, ok = plain.(*CompositeSource)
	assert.True(t, ok)
}
