// Package embedding provides vector embedding generation for semantic search.
// Supports multiple backends: feature hashing (offline), Ollama (local),
// Google GenAI and OpenAI-compatible APIs (cloud).
package embedding

import (
	"context"
	"fmt"

	"autolearn/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates embeddings for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for engines backed by a remote
// service that can be health-checked before the loop starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "hashing", "ollama", "genai" or "openai"
	Provider string `json:"provider"`

	// Dimensions fixes the vector size. Required for hashing; for remote
	// engines it is requested from the API where supported and enforced.
	Dimensions int `json:"dimensions"`

	OllamaEndpoint string `json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model"`    // Default: "nomic-embed-text"

	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"` // Default: "gemini-embedding-001"
	TaskType    string `json:"task_type"`   // Default: "SEMANTIC_SIMILARITY"

	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIModel   string `json:"openai_model"` // Default: "text-embedding-3-small"

	BatchSize int `json:"batch_size"` // Default: 32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "hashing",
		Dimensions:     384,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "nomic-embed-text",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
		OpenAIModel:    "text-embedding-3-small",
		BatchSize:      32,
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration. The result
// is always wrapped by Normalized, so callers receive unit-length vectors of
// a fixed dimension or an *EmbeddingError.
func NewEngine(cfg Config) (*Normalized, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "hashing", "":
		engine, err = NewHashingEngine(cfg.Dimensions)
	case "ollama":
		logging.Embedding("Initializing Ollama embedding engine: endpoint=%s, model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimensions)
	case "genai":
		logging.Embedding("Initializing GenAI embedding engine: model=%s, task_type=%s", cfg.GenAIModel, cfg.TaskType)
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)
	case "openai":
		logging.Embedding("Initializing OpenAI embedding engine: model=%s", cfg.OpenAIModel)
		engine, err = NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'hashing', 'ollama', 'genai' or 'openai')", cfg.Provider)
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return NewNormalized(engine).WithBatchSize(cfg.BatchSize), nil
}
