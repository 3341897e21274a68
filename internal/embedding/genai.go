package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

// validTaskTypes are the task hints the embedding endpoint accepts.
var validTaskTypes = map[string]bool{
	"SEMANTIC_SIMILARITY":  true,
	"CLASSIFICATION":       true,
	"CLUSTERING":           true,
	"RETRIEVAL_DOCUMENT":   true,
	"RETRIEVAL_QUERY":      true,
	"CODE_RETRIEVAL_QUERY": true,
	"QUESTION_ANSWERING":   true,
	"FACT_VERIFICATION":    true,
}

// NewGenAIEngine creates a new GenAI embedding engine. The output size is
// always requested explicitly; dims of 0 means 768.
func NewGenAIEngine(apiKey, model, taskType string, dims int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims <= 0 {
		dims = 768
	}
	if !validTaskTypes[taskType] {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: taskType,
		dims:     dims,
	}, nil
}

func (e *GenAIEngine) config() *genai.EmbedContentConfig {
	d := int32(e.dims)
	return &genai.EmbedContentConfig{TaskType: e.taskType, OutputDimensionality: &d}
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
// GenAI has native batch support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.config())
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *GenAIEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
