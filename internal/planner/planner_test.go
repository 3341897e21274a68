package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autolearn/internal/embedding"
	"autolearn/internal/generator"
	"autolearn/internal/novelty"
	"autolearn/internal/source"
	"autolearn/internal/splitter"
	"autolearn/internal/store"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeSearcher struct {
	mu      sync.Mutex
	byQuery map[string][]source.Hit
	all     []source.Hit // returned for queries not in byQuery
	err     error
	queries []string
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(_ context.Context, q string, _ int) ([]source.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if hits, ok := f.byQuery[q]; ok {
		return hits, nil
	}
	return f.all, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ int64) (source.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return source.Page{}, err
	}
	text, ok := f.pages[url]
	if !ok {
		return source.Page{}, &source.FetchError{URL: url, Op: "status", Err: errors.New("HTTP 404")}
	}
	return source.Page{URL: url, Title: "Title of " + url, Text: text, FetchedAt: time.Now()}, nil
}

type fakeGenerator struct {
	lines   []string
	summary string
	err     error
	prompts []string
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, prompt string) ([]string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.lines, g.err
}

func (g *fakeGenerator) Summarize(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.summary, g.err
}

// poisonEngine fails batches and any single text containing "poison".
type poisonEngine struct {
	embedding.Engine
}

func (e poisonEngine) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("batch unavailable")
}

func (e poisonEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "poison") {
		return nil, &embedding.EmbeddingError{Engine: "poison", Index: -1, Err: errors.New("refused")}
	}
	return e.Engine.Embed(ctx, text)
}

// brokenStore fails document writes with a non-recoverable error.
type brokenStore struct {
	*store.Store
}

func (b brokenStore) UpsertDocument(context.Context, store.DocumentInput) (int64, error) {
	return 0, errors.New("disk I/O error")
}

// =============================================================================
// HELPERS
// =============================================================================

// uniqueText returns n distinct words sharing prefix.
func uniqueText(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(words, " ")
}

type harness struct {
	planner  *Planner
	store    *store.Store
	searcher *fakeSearcher
	fetcher  *fakeFetcher
}

func newHarness(t *testing.T, cfg Config, gen generator.Option) *harness {
	t.Helper()
	ctx := context.Background()

	engine, err := embedding.NewEngine(embedding.Config{Provider: "hashing", Dimensions: 128})
	require.NoError(t, err)
	st, err := store.Open(ctx, store.Options{Path: store.MemoryPath, Dimensions: engine.Dimensions()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// One passage per document keeps the counts easy to reason about.
	sp, err := splitter.New(splitter.Config{Strategy: splitter.Greedy, MinChunkLen: 400, MaxChunkLen: 100000, MinWords: 30})
	require.NoError(t, err)

	h := &harness{store: st, searcher: &fakeSearcher{}, fetcher: newFakeFetcher()}
	h.planner, err = New(cfg, Deps{
		Store:     st,
		Engine:    engine,
		Splitter:  sp,
		Filter:    novelty.New(0.82, 8),
		Searcher:  h.searcher,
		Fetcher:   h.fetcher,
		Generator: gen,
		Rand:      rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig("vector search")
	cfg.Workers = 3
	return cfg
}

func (h *harness) counts(t *testing.T) store.Stats {
	t.Helper()
	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	return st
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestEmptyStoreKeepsUniquePassage(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	h.searcher.all = []source.Hit{{Title: "Lorem", URL: "https://a.example/lorem"}}
	h.fetcher.pages["https://a.example/lorem"] = uniqueText("lorem", 600)

	res, err := h.planner.Cycle(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, res.Kept, 1)
	assert.GreaterOrEqual(t, splitter.WordCount(res.Kept[0].Text), 30)
	assert.Equal(t, "https://a.example/lorem", res.Kept[0].URL)
	assert.Equal(t, int64(1), h.counts(t).PassageCount)
	assert.Equal(t, 1, res.Fetched)
	assert.NotEmpty(t, res.RunID)
}

func TestIdenticalTextIsRejected(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	text := uniqueText("dup", 200)
	h.fetcher.pages["https://a.example/1"] = text
	h.fetcher.pages["https://b.example/2"] = text

	res, err := h.planner.IngestURLs(context.Background(), []string{"https://a.example/1"})
	require.NoError(t, err)
	require.Len(t, res.Kept, 1)

	res, err = h.planner.IngestURLs(context.Background(), []string{"https://b.example/2"})
	require.NoError(t, err)
	assert.Empty(t, res.Kept)
	assert.Equal(t, 1, res.Rejected)

	st := h.counts(t)
	assert.Equal(t, int64(1), st.PassageCount)
	assert.Equal(t, int64(2), st.DocumentCount, "the duplicate document is still recorded")
}

func TestZeroKeptCycle(t *testing.T) {
	for _, reflectOnEmpty := range []bool{false, true} {
		t.Run(fmt.Sprintf("reflect_on_empty=%v", reflectOnEmpty), func(t *testing.T) {
			cfg := testConfig()
			cfg.ReflectOnEmpty = reflectOnEmpty
			h := newHarness(t, cfg, generator.Absent())
			h.searcher.all = []source.Hit{{Title: "gone", URL: "https://a.example/gone"}}

			res, err := h.planner.Cycle(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, res.Kept)
			assert.Nil(t, res.Insight)
			assert.Equal(t, 1, res.Failed)
			assert.Equal(t, int64(0), h.counts(t).InsightCount)
			if reflectOnEmpty {
				assert.Equal(t, "vector search: comparison, benchmark, limitations, open problems", res.Note)
			} else {
				assert.Empty(t, res.Note)
			}
		})
	}
}

// =============================================================================
// FETCH_FILTER
// =============================================================================

func TestFailuresDoNotAbortCycle(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	h.searcher.all = []source.Hit{
		{Title: "a", URL: "https://a.example/"},
		{Title: "b", URL: "https://b.example/"},
		{Title: "c", URL: "https://c.example/"},
		{Title: "d", URL: "https://d.example/"},
	}
	h.fetcher.errs["https://a.example/"] = &source.FetchError{URL: "https://a.example/", Op: "request", Err: errors.New("timeout")}
	h.fetcher.pages["https://b.example/"] = uniqueText("bravo", 120)
	h.fetcher.pages["https://c.example/"] = "too short to keep"
	h.fetcher.pages["https://d.example/"] = uniqueText("delta", 120)

	res, err := h.planner.Cycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Hits)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Fetched)
	require.Len(t, res.Kept, 2)
	assert.Equal(t, "https://b.example/", res.Kept[0].URL, "commits follow hit order")
	assert.Equal(t, "https://d.example/", res.Kept[1].URL)
	require.NotNil(t, res.Insight)
	assert.Equal(t, int64(2), h.counts(t).DocumentCount)
}

func TestKnownURLsAreNotRefetched(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	h.searcher.all = []source.Hit{{Title: "a", URL: "https://a.example/"}}
	h.fetcher.pages["https://a.example/"] = uniqueText("alpha", 120)

	_, err := h.planner.Cycle(context.Background(), nil)
	require.NoError(t, err)
	res, err := h.planner.Cycle(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Known)
	assert.Empty(t, res.Kept)
	assert.Equal(t, 1, h.fetcher.calls["https://a.example/"])
	assert.Equal(t, int64(1), h.counts(t).DocumentCount)
}

func TestEmbeddingFailureSkipsOnlyThatPassage(t *testing.T) {
	ctx := context.Background()
	engine, err := embedding.NewEngine(embedding.Config{Provider: "hashing", Dimensions: 64})
	require.NoError(t, err)
	st, err := store.Open(ctx, store.Options{Path: store.MemoryPath, Dimensions: 64})
	require.NoError(t, err)
	defer st.Close()
	sp, err := splitter.New(splitter.Config{Strategy: splitter.Window, WindowWords: 40, OverlapWords: 0, MinWords: 30})
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.pages["https://p.example/"] = uniqueText("good", 40) + " poison " + uniqueText("bad", 39) + " " + uniqueText("fine", 40)

	cfg := testConfig()
	cfg.MinTextLen = 10
	p, err := New(cfg, Deps{Store: st, Engine: poisonEngine{engine}, Splitter: sp, Fetcher: fetcher})
	require.NoError(t, err)

	res, err := p.IngestURLs(ctx, []string{"https://p.example/", "https://p.example/"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Hits, "duplicate URLs collapse")
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Kept, 2)
	assert.True(t, strings.HasPrefix(res.Kept[0].Text, "good0"))
	assert.True(t, strings.HasPrefix(res.Kept[1].Text, "fine0"))
}

func TestNonRecoverableStoreErrorFailsCycle(t *testing.T) {
	ctx := context.Background()
	engine, err := embedding.NewEngine(embedding.Config{Provider: "hashing", Dimensions: 32})
	require.NoError(t, err)
	st, err := store.Open(ctx, store.Options{Path: store.MemoryPath, Dimensions: 32})
	require.NoError(t, err)
	defer st.Close()
	sp, err := splitter.New(splitter.DefaultConfig())
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.pages["https://x.example/"] = uniqueText("x", 200)
	searcher := &fakeSearcher{all: []source.Hit{{URL: "https://x.example/"}}}

	p, err := New(testConfig(), Deps{Store: brokenStore{st}, Engine: engine, Splitter: sp, Fetcher: fetcher, Searcher: searcher})
	require.NoError(t, err)

	_, err = p.Cycle(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

// =============================================================================
// PLAN / SEARCH
// =============================================================================

func TestPlanUsesTemplates(t *testing.T) {
	cfg := testConfig()
	cfg.QueriesPerCycle = 5
	h := newHarness(t, cfg, generator.Absent())

	got := h.planner.plan(context.Background(), nil)
	assert.ElementsMatch(t, []string{
		"vector search",
		"vector search latest developments",
		"vector search explained in depth",
		"vector search comparison benchmark",
		"vector search limitations open problems",
	}, got)

	got = h.planner.plan(context.Background(), []string{"old note", "hnsw recall tradeoffs", " "})
	assert.Contains(t, got, "hnsw recall tradeoffs")
	assert.NotContains(t, got, "vector search limitations open problems")

	h.planner.cfg.QueriesPerCycle = 2
	assert.Len(t, h.planner.plan(context.Background(), nil), 2)
}

func TestPlanShuffleIsSeeded(t *testing.T) {
	a := newHarness(t, testConfig(), generator.Absent())
	b := newHarness(t, testConfig(), generator.Absent())
	assert.Equal(t, a.planner.plan(context.Background(), nil), b.planner.plan(context.Background(), nil))
}

func TestPlanWithGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.QueriesPerCycle = 4
	gen := &fakeGenerator{lines: []string{"ivf pq tradeoffs", "IVF PQ tradeoffs", "diskann"}}
	h := newHarness(t, cfg, generator.Present(gen))

	got := h.planner.plan(context.Background(), []string{"note one"})
	require.Len(t, got, 4)
	assert.Equal(t, []string{"ivf pq tradeoffs", "diskann"}, withoutTemplates(got, "vector search", []string{"note one"}))
	assert.Contains(t, gen.prompts[0], "note one")

	gen.err = errors.New("quota")
	got = h.planner.plan(context.Background(), nil)
	assert.Len(t, got, 4)
	assert.Empty(t, withoutTemplates(got, "vector search", nil))
}

func withoutTemplates(qs []string, goal string, notes []string) []string {
	tpl := map[string]bool{}
	for _, q := range templates(goal, notes) {
		tpl[strings.ToLower(q)] = true
	}
	var out []string
	for _, q := range qs {
		if !tpl[strings.ToLower(q)] {
			out = append(out, q)
		}
	}
	return out
}

func TestSearchDedupesAndSorts(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	h.searcher.byQuery = map[string][]source.Hit{
		"q1": {{Title: "b", URL: "u-b"}, {Title: "old", URL: "u-old", PublishedAt: &d1}},
		"q2": {{Title: "a", URL: "u-a2"}, {Title: "a", URL: "u-a1"}, {Title: "new", URL: "u-new", PublishedAt: &d2}, {Title: "b", URL: "u-b"}},
	}

	hits, err := h.planner.search(context.Background(), []string{"q1", "q2"})
	require.NoError(t, err)
	urls := make([]string, len(hits))
	for i, hit := range hits {
		urls[i] = hit.URL
	}
	if diff := cmp.Diff([]string{"u-new", "u-old", "u-a1", "u-a2", "u-b"}, urls); diff != "" {
		t.Errorf("hit order mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchFailures(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	h.searcher.err = errors.New("offline")

	_, err := h.planner.Cycle(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}

// =============================================================================
// SYNTHESIZE / REFLECT
// =============================================================================

func TestConfidenceIsMonotonicAndCapped(t *testing.T) {
	sc := DefaultSynthesisConfig()
	assert.InDelta(t, 0.55, sc.Confidence(1), 1e-9)
	assert.InDelta(t, 0.75, sc.Confidence(5), 1e-9)
	prev := 0.0
	for n := 1; n <= 20; n++ {
		c := sc.Confidence(n)
		assert.GreaterOrEqual(t, c, prev)
		assert.LessOrEqual(t, c, 0.95)
		prev = c
	}
	assert.Equal(t, 0.95, sc.Confidence(50))
}

func TestSourcesAndFallbackSummary(t *testing.T) {
	kept := []Material{
		{Title: "A", URL: "u1"}, {Title: "A", URL: "u2"}, {URL: "u3"},
		{Title: "B"}, {Title: "C"}, {Title: "D"}, {Title: "E"},
	}
	assert.Equal(t, []string{"A", "u3", "B", "C", "D"}, sources(kept, 5))

	long := strings.Repeat("abcdefghij ", 100)
	s := fallbackSummary([]string{long}, 60, 480)
	assert.LessOrEqual(t, len([]rune(s)), 480)
	assert.Equal(t, 44, len(strings.Fields(s)), "character cap binds before the word cap")

	s = fallbackSummary([]string{"one two", "three"}, 2, 480)
	assert.Equal(t, "one two", s)
}

func TestCycleWithGenerator(t *testing.T) {
	gen := &fakeGenerator{lines: []string{"", "compare hnsw and ivf"}, summary: "  Vector indexes trade recall for speed.  "}
	h := newHarness(t, testConfig(), generator.Present(gen))
	h.searcher.all = []source.Hit{{Title: "Doc", URL: "https://a.example/"}}
	h.fetcher.pages["https://a.example/"] = uniqueText("gen", 150)

	res, err := h.planner.Cycle(context.Background(), []string{"earlier note"})
	require.NoError(t, err)
	require.NotNil(t, res.Insight)
	assert.Equal(t, "Vector indexes trade recall for speed.", res.Insight.Summary)
	assert.Equal(t, []string{"Title of https://a.example/"}, res.Insight.Sources)
	assert.InDelta(t, 0.55, res.Insight.Confidence, 1e-9)
	assert.Equal(t, "compare hnsw and ivf", res.Note)

	recent, err := h.store.RecentInsights(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.Insight.ID, recent[0].ID)
}

func TestReflectFallback(t *testing.T) {
	h := newHarness(t, testConfig(), generator.Absent())
	note := h.planner.reflect(context.Background(), &store.Insight{Topic: "rust async"})
	assert.Equal(t, "rust async: comparison, benchmark, limitations, open problems", note)

	gen := &fakeGenerator{err: errors.New("down")}
	h = newHarness(t, testConfig(), generator.Present(gen))
	note = h.planner.reflect(context.Background(), &store.Insight{Topic: "rust async"})
	assert.Equal(t, "rust async: comparison, benchmark, limitations, open problems", note)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}
