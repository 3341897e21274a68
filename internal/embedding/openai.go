package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// =============================================================================
// OPENAI-COMPATIBLE EMBEDDING ENGINE
// =============================================================================

// OpenAIEngine generates embeddings through the OpenAI embeddings API or any
// server exposing the same interface.
type OpenAIEngine struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEngine creates a new OpenAI embedding engine. dims of 0 means
// 1536, the native size of text-embedding-3-small.
func NewOpenAIEngine(apiKey, baseURL, model string, dims int) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims <= 0 {
		dims = 1536
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEngine{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request. The API
// may return items out of order, so results are placed by their index.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embed failed: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, fmt.Errorf("OpenAI returned out-of-range index %d", i)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("OpenAI returned no embedding for input %d", i)
		}
	}
	return out, nil
}

// Dimensions returns the requested dimensionality.
func (e *OpenAIEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *OpenAIEngine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}
