// Package config loads and validates the autolearn configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autolearn configuration.
type Config struct {
	// Goal is the topic the learner keeps researching.
	Goal string `yaml:"goal"`

	Loop       LoopConfig       `yaml:"loop"`
	Novelty    NoveltyConfig    `yaml:"novelty"`
	Splitter   SplitterConfig   `yaml:"splitter"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Store      StoreConfig      `yaml:"store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Search     SearchConfig     `yaml:"search"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Ask        AskConfig        `yaml:"ask"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Goal: "learn a new topic",

		Loop: LoopConfig{
			QueriesPerCycle: 3,
			ResultsPerQuery: 5,
			Workers:         4,
			IdleInterval:    "2s",
			BackoffFloor:    "5s",
			BackoffCeiling:  "300s",
		},

		Novelty: NoveltyConfig{
			Threshold: 0.82,
			K:         8,
		},

		Splitter: SplitterConfig{
			Strategy:     "greedy",
			MinChunkLen:  400,
			MaxChunkLen:  1200,
			WindowWords:  800,
			OverlapWords: 120,
			MinWords:     30,
		},

		Synthesis: SynthesisConfig{
			MaxInputs:           5,
			InputChars:          600,
			SummaryWords:        60,
			SummaryChars:        480,
			MaxSources:          5,
			ConfidenceBase:      0.5,
			ConfidenceIncrement: 0.05,
			ConfidenceCeiling:   0.95,
		},

		Store: StoreConfig{
			DatabasePath: "autolearn.db",
			BusyTimeout:  "5s",
		},

		Checkpoint: CheckpointConfig{
			Path:     "checkpoint.json",
			StopFile: "STOP",
		},

		Embedding: EmbeddingConfig{
			Provider:       "hashing",
			Dimensions:     384,
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
			OpenAIModel:    "text-embedding-3-small",
			BatchSize:      32,
		},

		Generator: GeneratorConfig{
			Timeout:   "60s",
			UsageFile: "usage.json",
		},

		Search: SearchConfig{
			DuckDuckGo: true,
			Endpoint:   "https://html.duckduckgo.com/html/",
			FeedTTL:    "15m",
			Timeout:    "20s",
		},

		Fetch: FetchConfig{
			Timeout:   "20s",
			MaxBytes:  2 << 20,
			UserAgent: "autolearn/1.0 (+https://github.com/autolearn)",
		},

		Ask: AskConfig{
			MemoryK:           6,
			WebResults:        5,
			WebFetches:        3,
			PageChars:         2000,
			ContextChars:      400,
			FallbackSentences: 2,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Field: path, Reason: "failed to parse config", Err: err}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("AUTOLEARN_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if goal := os.Getenv("AUTOLEARN_GOAL"); goal != "" {
		c.Goal = goal
	}
	if level := os.Getenv("AUTOLEARN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Embedding.OllamaEndpoint = host
	}

	// Generator keys: an explicitly configured provider wins.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Generator.Provider == "" {
			c.Generator.Provider = "genai"
		}
		if c.Generator.Provider == "genai" {
			c.Generator.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Embedding.OpenAIAPIKey = key
		if c.Generator.Provider == "" {
			c.Generator.Provider = "openai"
		}
		if c.Generator.Provider == "openai" {
			c.Generator.APIKey = key
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetIdleInterval returns the pause after a successful cycle.
func (c *Config) GetIdleInterval() time.Duration {
	return parseDuration(c.Loop.IdleInterval, 2*time.Second)
}

// GetBackoffFloor returns the first backoff delay after a failed cycle.
func (c *Config) GetBackoffFloor() time.Duration {
	return parseDuration(c.Loop.BackoffFloor, 5*time.Second)
}

// GetBackoffCeiling returns the maximum backoff delay.
func (c *Config) GetBackoffCeiling() time.Duration {
	return parseDuration(c.Loop.BackoffCeiling, 300*time.Second)
}

// GetFetchTimeout returns the per-page fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Fetch.Timeout, 20*time.Second)
}

// GetSearchTimeout returns the per-query search timeout.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 20*time.Second)
}

// GetFeedTTL returns how long a parsed feed is reused.
func (c *Config) GetFeedTTL() time.Duration {
	return parseDuration(c.Search.FeedTTL, 15*time.Minute)
}

// GetGeneratorTimeout returns the generator request timeout.
func (c *Config) GetGeneratorTimeout() time.Duration {
	return parseDuration(c.Generator.Timeout, 60*time.Second)
}

// GetMinTextLen returns the shortest fetched text kept for splitting.
// Unset means splitter.min_chunk_len, so the two cannot drift apart.
func (c *Config) GetMinTextLen() int {
	if c.Fetch.MinTextLen > 0 {
		return c.Fetch.MinTextLen
	}
	return c.Splitter.MinChunkLen
}

// GetBusyTimeout returns the SQLite busy timeout.
func (c *Config) GetBusyTimeout() time.Duration {
	return parseDuration(c.Store.BusyTimeout, 5*time.Second)
}

// ValidEmbeddingProviders lists the supported embedding backends.
var ValidEmbeddingProviders = []string{"hashing", "ollama", "genai", "openai"}

// ValidGeneratorProviders lists the supported generator backends; "" means none.
var ValidGeneratorProviders = []string{"", "genai", "openai"}

// ValidSplitStrategies lists the supported passage splitting strategies.
var ValidSplitStrategies = []string{"greedy", "window"}

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// Validate validates the configuration. The first problem found is
// returned as a *ConfigError.
func (c *Config) Validate() error {
	if c.Goal == "" {
		return Invalid("goal", "must not be empty")
	}

	if c.Loop.QueriesPerCycle < 1 {
		return Invalid("loop.queries_per_cycle", "must be >= 1, got %d", c.Loop.QueriesPerCycle)
	}
	if c.Loop.ResultsPerQuery < 1 {
		return Invalid("loop.results_per_query", "must be >= 1, got %d", c.Loop.ResultsPerQuery)
	}
	if c.Loop.MaxCycles < 0 {
		return Invalid("loop.max_cycles", "must be >= 0, got %d", c.Loop.MaxCycles)
	}
	if c.Loop.Workers < 1 {
		return Invalid("loop.workers", "must be >= 1, got %d", c.Loop.Workers)
	}
	// Checked in declaration order so the reported field is stable.
	durations := []struct{ field, value string }{
		{"loop.idle_interval", c.Loop.IdleInterval},
		{"loop.backoff_floor", c.Loop.BackoffFloor},
		{"loop.backoff_ceiling", c.Loop.BackoffCeiling},
		{"fetch.timeout", c.Fetch.Timeout},
		{"search.timeout", c.Search.Timeout},
		{"search.feed_ttl", c.Search.FeedTTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return &ConfigError{Field: d.field, Reason: "invalid duration", Err: err}
		}
	}
	if c.GetBackoffFloor() > c.GetBackoffCeiling() {
		return Invalid("loop.backoff_floor", "must not exceed backoff_ceiling")
	}

	if c.Novelty.Threshold <= 0 || c.Novelty.Threshold > 1 {
		return Invalid("novelty.threshold", "must be in (0,1], got %v", c.Novelty.Threshold)
	}
	if c.Novelty.K < 1 {
		return Invalid("novelty.k", "must be >= 1, got %d", c.Novelty.K)
	}

	s := c.Splitter
	if !oneOf(s.Strategy, ValidSplitStrategies) {
		return Invalid("splitter.strategy", "invalid strategy %q (valid: %v)", s.Strategy, ValidSplitStrategies)
	}
	if s.MinChunkLen < 1 || s.MaxChunkLen < s.MinChunkLen {
		return Invalid("splitter.max_chunk_len", "need 1 <= min_chunk_len <= max_chunk_len, got %d/%d", s.MinChunkLen, s.MaxChunkLen)
	}
	if s.Strategy == "window" && (s.WindowWords < 1 || s.OverlapWords < 0 || s.OverlapWords >= s.WindowWords) {
		return Invalid("splitter.overlap_words", "need 0 <= overlap < window, got %d/%d", s.OverlapWords, s.WindowWords)
	}
	if s.MinWords < 0 {
		return Invalid("splitter.min_words", "must be >= 0, got %d", s.MinWords)
	}

	y := c.Synthesis
	if y.MaxInputs < 1 || y.InputChars < 1 || y.SummaryWords < 1 || y.SummaryChars < 1 || y.MaxSources < 1 {
		return Invalid("synthesis", "limits must be positive")
	}
	if y.ConfidenceBase < 0 || y.ConfidenceIncrement < 0 || y.ConfidenceCeiling > 1 || y.ConfidenceBase > y.ConfidenceCeiling {
		return Invalid("synthesis.confidence_ceiling", "need 0 <= base <= ceiling <= 1 and increment >= 0")
	}

	if c.Store.DatabasePath == "" {
		return Invalid("store.database_path", "must not be empty")
	}
	if c.Checkpoint.Path == "" {
		return Invalid("checkpoint.path", "must not be empty")
	}

	if !oneOf(c.Embedding.Provider, ValidEmbeddingProviders) {
		return Invalid("embedding.provider", "invalid provider %q (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Embedding.Provider == "hashing" && c.Embedding.Dimensions < 1 {
		return Invalid("embedding.dimensions", "must be >= 1 for the hashing engine")
	}
	if c.Embedding.Dimensions < 0 {
		return Invalid("embedding.dimensions", "must be >= 0")
	}

	if !oneOf(c.Generator.Provider, ValidGeneratorProviders) {
		return Invalid("generator.provider", "invalid provider %q (valid: %v)", c.Generator.Provider, ValidGeneratorProviders)
	}
	if c.Generator.Enabled() && c.Generator.APIKey == "" {
		return Invalid("generator.api_key", "required when provider is %q (set GEMINI_API_KEY or OPENAI_API_KEY)", c.Generator.Provider)
	}

	if !c.Search.DuckDuckGo && len(c.Search.Feeds) == 0 {
		return Invalid("search", "no search source enabled")
	}
	if c.Fetch.MaxBytes < 1 {
		return Invalid("fetch.max_bytes", "must be >= 1")
	}
	if c.Fetch.MinTextLen < 0 {
		return Invalid("fetch.min_text_len", "must be >= 0, got %d", c.Fetch.MinTextLen)
	}

	a := c.Ask
	if a.MemoryK < 1 {
		return Invalid("ask.memory_k", "must be >= 1, got %d", a.MemoryK)
	}
	if a.WebResults < 0 || a.WebFetches < 0 {
		return Invalid("ask.web_fetches", "web_results and web_fetches must be >= 0")
	}
	if a.PageChars < 1 || a.ContextChars < 1 || a.FallbackSentences < 1 {
		return Invalid("ask", "page_chars, context_chars and fallback_sentences must be positive")
	}
	return nil
}
