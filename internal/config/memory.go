package config

// StoreConfig configures the knowledge store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
	BusyTimeout  string `yaml:"busy_timeout" json:"busy_timeout"` // Default: "5s"
}

// EmbeddingConfig configures the vector embedding engine.
// Supports hashing (offline), Ollama (local), GenAI and OpenAI (cloud) backends.
type EmbeddingConfig struct {
	// Provider: "hashing", "ollama", "genai" or "openai"
	Provider string `yaml:"provider" json:"provider"`

	// Dimensions is used by the hashing engine and, when non-zero, enforced
	// against every other backend's output.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Ollama Configuration (local embedding server)
	OllamaEndpoint string `yaml:"ollama_endpoint" json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model" json:"ollama_model"`       // Default: "nomic-embed-text"

	// GenAI Configuration (Google cloud embedding)
	GenAIAPIKey string `yaml:"genai_api_key" json:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model" json:"genai_model"` // Default: "gemini-embedding-001"
	TaskType    string `yaml:"task_type" json:"task_type"`     // Default: "SEMANTIC_SIMILARITY"

	// OpenAI-compatible Configuration
	OpenAIAPIKey  string `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model" json:"openai_model"` // Default: "text-embedding-3-small"

	BatchSize int `yaml:"batch_size" json:"batch_size"` // Default: 32
}
