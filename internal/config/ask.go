package config

// AskConfig bounds the context used to answer questions.
type AskConfig struct {
	MemoryK           int `yaml:"memory_k" json:"memory_k"`       // passages recalled from the store
	WebResults        int `yaml:"web_results" json:"web_results"` // 0 answers from memory only
	WebFetches        int `yaml:"web_fetches" json:"web_fetches"`
	PageChars         int `yaml:"page_chars" json:"page_chars"`
	ContextChars      int `yaml:"context_chars" json:"context_chars"`
	FallbackSentences int `yaml:"fallback_sentences" json:"fallback_sentences"`
}
