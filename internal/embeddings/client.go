package embeddings

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Client embeds text batches through an OpenAI-compatible endpoint.
type Client struct {
	client openai.Client
	model  string
	dim    int
	logger arbor.ILogger
}

var _ interfaces.Embedder = (*Client)(nil)

// NewClient builds the embedding client from configuration. BaseURL is
// optional; empty means the default OpenAI endpoint.
func NewClient(cfg common.EmbedderConfig, dim int, logger arbor.ILogger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedder model cannot be empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: cfg.TimeoutDuration()}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		dim:    dim,
		logger: logger,
	}, nil
}

// EmbedBatch embeds the texts in one request, preserving order. Every
// returned vector is verified against the configured dimension.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", idx)
		}
		if len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("embedding has dimension %d, want %d", len(d.Embedding), c.dim)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("texts", len(texts)).
		Msg("Embedded batch")

	return out, nil
}

// Dimension returns the configured embedding dimension.
func (c *Client) Dimension() int {
	return c.dim
}

// Name returns the embedding model name.
func (c *Client) Name() string {
	return c.model
}
