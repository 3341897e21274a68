package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.82, cfg.Novelty.Threshold)
	assert.Equal(t, 8, cfg.Novelty.K)
	assert.Equal(t, "greedy", cfg.Splitter.Strategy)
	assert.Equal(t, 400, cfg.Splitter.MinChunkLen)
	assert.Equal(t, 1200, cfg.Splitter.MaxChunkLen)
	assert.Equal(t, 5*time.Second, cfg.GetBackoffFloor())
	assert.Equal(t, 300*time.Second, cfg.GetBackoffCeiling())
	assert.False(t, cfg.Generator.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("AUTOLEARN_GOAL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Goal, cfg.Goal)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autolearn.yaml")

	cfg := DefaultConfig()
	cfg.Goal = "vector databases"
	cfg.Novelty.Threshold = 0.9
	cfg.Search.Feeds = []string{"https://example.com/feed.xml"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vector databases", loaded.Goal)
	assert.Equal(t, 0.9, loaded.Novelty.Threshold)
	assert.Equal(t, []string{"https://example.com/feed.xml"}, loaded.Search.Feeds)
	// Unset sections keep defaults.
	assert.Equal(t, 1200, loaded.Splitter.MaxChunkLen)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autolearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("goal: rust async\nnovelty:\n  k: 3\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rust async", cfg.Goal)
	assert.Equal(t, 3, cfg.Novelty.K)
	assert.Equal(t, 0.82, cfg.Novelty.Threshold)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autolearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("goal: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty goal", func(c *Config) { c.Goal = "" }, "goal"},
		{"zero threshold", func(c *Config) { c.Novelty.Threshold = 0 }, "novelty.threshold"},
		{"threshold above one", func(c *Config) { c.Novelty.Threshold = 1.5 }, "novelty.threshold"},
		{"zero k", func(c *Config) { c.Novelty.K = 0 }, "novelty.k"},
		{"unknown strategy", func(c *Config) { c.Splitter.Strategy = "sentences" }, "splitter.strategy"},
		{"max below min", func(c *Config) { c.Splitter.MaxChunkLen = 10 }, "splitter.max_chunk_len"},
		{"overlap not below window", func(c *Config) {
			c.Splitter.Strategy = "window"
			c.Splitter.OverlapWords = 800
		}, "splitter.overlap_words"},
		{"bad duration", func(c *Config) { c.Loop.IdleInterval = "soon" }, "loop.idle_interval"},
		{"floor above ceiling", func(c *Config) { c.Loop.BackoffFloor = "10m" }, "loop.backoff_floor"},
		{"unknown embedding", func(c *Config) { c.Embedding.Provider = "word2vec" }, "embedding.provider"},
		{"generator without key", func(c *Config) { c.Generator.Provider = "openai" }, "generator.api_key"},
		{"unknown generator", func(c *Config) { c.Generator.Provider = "llama" }, "generator.provider"},
		{"no sources", func(c *Config) { c.Search.DuckDuckGo = false }, "search"},
		{"confidence inverted", func(c *Config) { c.Synthesis.ConfidenceBase = 0.99 }, "synthesis.confidence_ceiling"},
		{"zero memory k", func(c *Config) { c.Ask.MemoryK = 0 }, "ask.memory_k"},
		{"negative web fetches", func(c *Config) { c.Ask.WebFetches = -1 }, "ask.web_fetches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 2*time.Second, cfg.GetIdleInterval())
	assert.Equal(t, 20*time.Second, cfg.GetFetchTimeout())
	assert.Equal(t, 15*time.Minute, cfg.GetFeedTTL())
	assert.Equal(t, 60*time.Second, cfg.GetGeneratorTimeout())
}

func TestValidateReportsFirstBadDuration(t *testing.T) {
	for i := 0; i < 20; i++ {
		cfg := DefaultConfig()
		cfg.Loop.BackoffCeiling = "later"
		cfg.Fetch.Timeout = "slow"
		cfg.Search.FeedTTL = "often"

		var ce *ConfigError
		require.ErrorAs(t, cfg.Validate(), &ce)
		require.Equal(t, "loop.backoff_ceiling", ce.Field)
	}
}

func TestMinTextLenFollowsSplitter(t *testing.T) {
	cfg := DefaultConfig()
	assert.Zero(t, cfg.Fetch.MinTextLen)
	assert.Equal(t, 400, cfg.GetMinTextLen())

	cfg.Splitter.MinChunkLen = 250
	assert.Equal(t, 250, cfg.GetMinTextLen())

	cfg.Fetch.MinTextLen = 50
	assert.Equal(t, 50, cfg.GetMinTextLen())
}

func TestLoggingCategoryToggle(t *testing.T) {
	lc := LoggingConfig{Categories: map[string]bool{"source": false}}
	assert.False(t, lc.IsCategoryEnabled("source"))
	assert.True(t, lc.IsCategoryEnabled("store"))
}
