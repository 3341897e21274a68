package config

// GeneratorConfig configures the optional text generator used for query
// suggestions, summaries and reflection. An empty provider means absent.
type GeneratorConfig struct {
	Provider string `yaml:"provider"` // "", genai, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// UsageFile accumulates token usage across runs; empty disables it.
	UsageFile string `yaml:"usage_file"`
}

// Enabled reports whether a generator backend is configured.
func (g GeneratorConfig) Enabled() bool {
	return g.Provider != ""
}
