package config

// SearchConfig configures the search collaborators.
type SearchConfig struct {
	DuckDuckGo bool     `yaml:"duckduckgo" json:"duckduckgo"`
	Endpoint   string   `yaml:"endpoint" json:"endpoint"`
	Feeds      []string `yaml:"feeds" json:"feeds"`
	FeedTTL    string   `yaml:"feed_ttl" json:"feed_ttl"`
	Timeout    string   `yaml:"timeout" json:"timeout"`
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	Timeout   string `yaml:"timeout" json:"timeout"`
	MaxBytes  int64  `yaml:"max_bytes" json:"max_bytes"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	Markdown  bool   `yaml:"markdown" json:"markdown"` // keep article structure as markdown

	// MinTextLen rejects pages whose extracted text has fewer runes.
	// Zero falls back to splitter.min_chunk_len.
	MinTextLen int `yaml:"min_text_len" json:"min_text_len"`
}
