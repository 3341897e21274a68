package system

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autolearn/internal/config"
	"autolearn/internal/generator"
	"autolearn/internal/loop"
	"autolearn/internal/source"
)

type MockSearcher struct {
	SearchFunc func(ctx context.Context, query string, max int) ([]source.Hit, error)
	calls      int
}

func (m *MockSearcher) Search(ctx context.Context, query string, max int) ([]source.Hit, error) {
	m.calls++
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, max)
	}
	return nil, nil
}

func (m *MockSearcher) Name() string { return "mock" }

type MockFetcher struct {
	FetchFunc func(ctx context.Context, url string, maxBytes int64) (source.Page, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, url string, maxBytes int64) (source.Page, error) {
	return m.FetchFunc(ctx, url, maxBytes)
}

func article(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("term%d", i)
	}
	return strings.Join(parts, " ")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Goal = "vector databases"
	cfg.Store.DatabasePath = filepath.Join(dir, "kb.db")
	cfg.Checkpoint.Path = filepath.Join(dir, "checkpoint.json")
	cfg.Checkpoint.StopFile = filepath.Join(dir, "STOP")
	cfg.Embedding.Provider = "hashing"
	cfg.Embedding.Dimensions = 128
	cfg.Generator = config.GeneratorConfig{}
	return cfg
}

func bootForTest(t *testing.T, cfg *config.Config, searcher source.Searcher, fetcher source.Fetcher) *System {
	t.Helper()
	absent := generator.Absent()
	sys, err := BootWithConfig(context.Background(), BootConfig{
		Config:            cfg,
		SkipLogging:       true,
		SearcherOverride:  searcher,
		FetcherOverride:   fetcher,
		GeneratorOverride: &absent,
		Rand:              rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestBootWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	sys := bootForTest(t, cfg, nil, nil)

	assert.Equal(t, "hashing:128", sys.Engine.Name())
	assert.Equal(t, 128, sys.Engine.Dimensions())
	assert.Equal(t, 128, sys.Store.Dimensions())
	assert.Equal(t, cfg.Store.DatabasePath, sys.Store.Path())
	assert.Equal(t, "multi(duckduckgo)", sys.Searcher.Name())
	assert.NotNil(t, sys.Fetcher)
	assert.False(t, sys.Generator.IsPresent())
	assert.Nil(t, sys.Usage)
	assert.Equal(t, "vector databases", sys.Planner.Goal())
	assert.NotNil(t, sys.QA)
	assert.Equal(t, cfg.Checkpoint.Path, sys.Checkpoints.Path())
	require.NotNil(t, sys.Stop)
	assert.Equal(t, cfg.Checkpoint.StopFile, sys.Stop.Path())
}

func TestBootCreatesUsageTracker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.UsageFile = filepath.Join(t.TempDir(), "usage.json")
	sys := bootForTest(t, cfg, nil, nil)

	require.NotNil(t, sys.Usage)
	assert.Equal(t, cfg.Generator.UsageFile, sys.Usage.Path())

	sys.Usage.Track("openai", "m", "generate", 3, 4)
	require.NoError(t, sys.Close())
	_, err := os.Stat(cfg.Generator.UsageFile)
	assert.NoError(t, err, "Close must persist usage")
}

func TestBootWithoutStopFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoint.StopFile = ""
	sys := bootForTest(t, cfg, nil, nil)
	assert.Nil(t, sys.Stop)
}

func TestBootRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Novelty.Threshold = 1.5

	sys, err := BootWithConfig(context.Background(), BootConfig{Config: cfg, SkipLogging: true})
	require.Error(t, err)
	assert.Nil(t, sys)
	assert.True(t, config.IsConfigError(err))
}

func TestBootUnopenableStoreIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.Store.DatabasePath = filepath.Join(blocker, "kb.db")

	_, err := BootWithConfig(context.Background(), BootConfig{Config: cfg, SkipLogging: true})
	require.Error(t, err)
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "store.database_path", ce.Field)
}

func TestBootUnreachableEngineIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.OllamaEndpoint = "http://127.0.0.1:1"

	_, err := BootWithConfig(context.Background(), BootConfig{Config: cfg, SkipLogging: true})
	require.Error(t, err)
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "embedding.provider", ce.Field)
}

func TestInspectSkipsEmbeddingEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.OllamaEndpoint = "http://127.0.0.1:1"
	cfg.Generator.UsageFile = filepath.Join(t.TempDir(), "usage.json")

	sys, err := inspect(context.Background(), cfg, true)
	require.NoError(t, err)
	defer sys.Close()

	assert.Nil(t, sys.Engine)
	assert.Nil(t, sys.Planner)
	assert.Nil(t, sys.QA)
	assert.Nil(t, sys.Driver)
	require.NotNil(t, sys.Usage)
	assert.False(t, sys.Generator.IsPresent())

	st, err := sys.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.DocumentCount)
	cp, err := sys.Checkpoints.Load()
	require.NoError(t, err)
	assert.Zero(t, cp.CycleCount)

	require.NoError(t, sys.Close())
	_, err = os.Stat(cfg.Generator.UsageFile)
	assert.True(t, os.IsNotExist(err), "inspection never writes usage")
}

func TestInspectRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Goal = ""
	_, err := inspect(context.Background(), cfg, true)
	assert.True(t, config.IsConfigError(err))
}

func TestSystemAskAfterCycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ask.WebResults = 0
	searcher := &MockSearcher{
		SearchFunc: func(ctx context.Context, query string, max int) ([]source.Hit, error) {
			return []source.Hit{{Title: "Intro", URL: "https://example.com/intro"}}, nil
		},
	}
	fetcher := &MockFetcher{
		FetchFunc: func(ctx context.Context, url string, maxBytes int64) (source.Page, error) {
			return source.Page{URL: url, Title: "Intro to vectors", Text: article(600), FetchedAt: time.Now()}, nil
		},
	}
	sys := bootForTest(t, cfg, searcher, fetcher)
	_, err := sys.Run(context.Background(), sys.Mode(1))
	require.NoError(t, err)
	calls := searcher.calls

	ans, err := sys.QA.Ask(context.Background(), "term1 term2")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/intro"}, ans.Sources)
	assert.False(t, ans.UsedGenerator)
	assert.Equal(t, calls, searcher.calls, "web disabled")
}

func TestSystemMode(t *testing.T) {
	cfg := testConfig(t)
	sys := bootForTest(t, cfg, nil, nil)

	assert.Equal(t, loop.Bounded(3), sys.Mode(3))
	assert.Equal(t, loop.Unbounded(), sys.Mode(0))

	cfg.Loop.MaxCycles = 2
	assert.Equal(t, loop.Bounded(2), sys.Mode(0))
	assert.Equal(t, loop.Bounded(5), sys.Mode(5))
}

func TestSystemRunOneCycle(t *testing.T) {
	cfg := testConfig(t)
	searcher := &MockSearcher{
		SearchFunc: func(ctx context.Context, query string, max int) ([]source.Hit, error) {
			return []source.Hit{{Title: "Intro", URL: "https://example.com/intro"}}, nil
		},
	}
	fetcher := &MockFetcher{
		FetchFunc: func(ctx context.Context, url string, maxBytes int64) (source.Page, error) {
			return source.Page{URL: url, Title: "Intro to vectors", Text: article(600), FetchedAt: time.Now()}, nil
		},
	}
	sys := bootForTest(t, cfg, searcher, fetcher)

	sum, err := sys.Run(context.Background(), sys.Mode(1))
	require.NoError(t, err)
	assert.Equal(t, loop.ReasonCompleted, sum.Reason)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.CycleCount)
	assert.Equal(t, cfg.Loop.QueriesPerCycle, searcher.calls)

	stats, err := sys.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DocumentCount)
	assert.GreaterOrEqual(t, stats.PassageCount, int64(1))
	assert.Equal(t, int64(1), stats.InsightCount)

	insights, err := sys.Store.RecentInsights(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "vector databases", insights[0].Topic)
	assert.Equal(t, []string{"Intro to vectors"}, insights[0].Sources)

	data, err := os.ReadFile(cfg.Checkpoint.Path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 1, raw["cycle_count"])
}

func TestSystemRunHonorsStopFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Checkpoint.StopFile, nil, 0644))
	searcher := &MockSearcher{}
	sys := bootForTest(t, cfg, searcher, &MockFetcher{})

	sum, err := sys.Run(context.Background(), loop.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, loop.ReasonStopped, sum.Reason)
	assert.Zero(t, sum.Attempts)
	assert.Zero(t, searcher.calls)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	sys, err := BootWithConfig(context.Background(), BootConfig{Config: cfg, SkipLogging: true})
	require.NoError(t, err)

	require.NoError(t, sys.Close())
	require.NoError(t, sys.Close())

	var nilSys *System
	assert.NoError(t, nilSys.Close())
}
