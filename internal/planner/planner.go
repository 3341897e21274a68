// Package planner runs one ingestion cycle: it plans queries from the goal
// and prior notes, searches, fetches and filters candidate documents into the
// knowledge store, then synthesizes an insight and a reflection note.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"autolearn/internal/embedding"
	"autolearn/internal/generator"
	"autolearn/internal/logging"
	"autolearn/internal/novelty"
	"autolearn/internal/source"
	"autolearn/internal/splitter"
	"autolearn/internal/store"
)

// Stage is a step of a cycle.
type Stage string

const (
	StagePlan        Stage = "PLAN"
	StageSearch      Stage = "SEARCH"
	StageFetchFilter Stage = "FETCH_FILTER"
	StagePersist     Stage = "PERSIST"
	StageSynthesize  Stage = "SYNTHESIZE"
	StageReflect     Stage = "REFLECT"
	StageDone        Stage = "DONE"
)

// Store is the part of the knowledge store a cycle uses.
type Store interface {
	novelty.Searcher
	HasDocument(ctx context.Context, url string) (bool, error)
	UpsertDocument(ctx context.Context, in store.DocumentInput) (int64, error)
	AddPassage(ctx context.Context, documentID int64, seq int, text string, vector []float32) (int64, error)
	StoreInsight(ctx context.Context, in store.InsightInput) (int64, error)
}

// SynthesisConfig bounds insight synthesis.
type SynthesisConfig struct {
	MaxInputs           int
	InputChars          int
	SummaryWords        int
	SummaryChars        int
	MaxSources          int
	ConfidenceBase      float64
	ConfidenceIncrement float64
	ConfidenceCeiling   float64
}

// DefaultSynthesisConfig returns the standard synthesis bounds.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		MaxInputs:           5,
		InputChars:          600,
		SummaryWords:        60,
		SummaryChars:        480,
		MaxSources:          5,
		ConfidenceBase:      0.5,
		ConfidenceIncrement: 0.05,
		ConfidenceCeiling:   0.95,
	}
}

// Config tunes a planner.
type Config struct {
	Goal            string
	QueriesPerCycle int
	ResultsPerQuery int
	Workers         int
	MinTextLen      int   // fetched text shorter than this is rejected
	MaxFetchBytes   int64 // 0 lets the fetcher decide
	ReflectOnEmpty  bool
	Synthesis       SynthesisConfig
}

// DefaultConfig returns the standard cycle configuration for goal.
func DefaultConfig(goal string) Config {
	return Config{
		Goal:            goal,
		QueriesPerCycle: 3,
		ResultsPerQuery: 5,
		Workers:         4,
		MinTextLen:      400,
		Synthesis:       DefaultSynthesisConfig(),
	}
}

// Deps are the collaborators of a planner. Generator may be Absent.
type Deps struct {
	Store     Store
	Engine    embedding.Engine
	Splitter  splitter.Splitter
	Filter    novelty.Filter
	Searcher  source.Searcher
	Fetcher   source.Fetcher
	Generator generator.Option
	Rand      *rand.Rand
}

// Material is a kept passage with its attribution.
type Material struct {
	URL        string
	Title      string
	Text       string
	DocumentID int64
	PassageID  int64
}

// Result summarizes one cycle.
type Result struct {
	RunID    string
	Queries  []string
	Hits     int // unique candidate hits
	Known    int // hits skipped because the URL was already stored
	Fetched  int // documents stored this cycle
	Failed   int // hits skipped on fetch or extraction failure
	Kept     []Material
	Rejected int // passages rejected as redundant
	Skipped  int // passages skipped on embedding or constraint errors
	Insight  *store.Insight
	Note     string
	Duration time.Duration
}

// Planner runs cycles. It is safe for concurrent use; store mutations from
// concurrent cycles serialize on the persist mutex.
type Planner struct {
	cfg      Config
	store    Store
	engine   embedding.Engine
	splitter splitter.Splitter
	filter   novelty.Filter
	searcher source.Searcher
	fetcher  source.Fetcher
	gen      generator.Option

	rngMu sync.Mutex
	rng   *rand.Rand

	// persistMu makes novelty check plus insert atomic.
	persistMu sync.Mutex

	now func() time.Time
}

// New creates a planner.
func New(cfg Config, deps Deps) (*Planner, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("planner: store is required")
	case deps.Engine == nil:
		return nil, errors.New("planner: embedding engine is required")
	case deps.Splitter == nil:
		return nil, errors.New("planner: splitter is required")
	case deps.Fetcher == nil:
		return nil, errors.New("planner: fetcher is required")
	}
	if cfg.QueriesPerCycle <= 0 {
		cfg.QueriesPerCycle = 3
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Synthesis == (SynthesisConfig{}) {
		cfg.Synthesis = DefaultSynthesisConfig()
	}
	if deps.Filter == (novelty.Filter{}) {
		deps.Filter = novelty.New(0, 0)
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{
		cfg:      cfg,
		store:    deps.Store,
		engine:   deps.Engine,
		splitter: deps.Splitter,
		filter:   deps.Filter,
		searcher: deps.Searcher,
		fetcher:  deps.Fetcher,
		gen:      deps.Generator,
		rng:      rng,
		now:      time.Now,
	}, nil
}

// Goal returns the configured learning goal.
func (p *Planner) Goal() string { return p.cfg.Goal }

// Cycle runs PLAN through REFLECT once. Per-hit and per-passage failures are
// logged and counted; any other error aborts the cycle and is returned.
func (p *Planner) Cycle(ctx context.Context, notes []string) (*Result, error) {
	if p.searcher == nil {
		return nil, errors.New("planner: no searcher configured")
	}
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := logging.Get(logging.CategoryPlanner).With("run_id", res.RunID)

	p.enter(log, StagePlan)
	res.Queries = p.plan(ctx, notes)
	log.Info("Planned %d queries: %v", len(res.Queries), res.Queries)

	p.enter(log, StageSearch)
	hits, err := p.search(ctx, res.Queries)
	if err != nil {
		return nil, err
	}
	res.Hits = len(hits)

	p.enter(log, StageFetchFilter)
	if err := p.ingest(ctx, log, hits, res); err != nil {
		return nil, err
	}
	p.enter(log, StagePersist)

	p.enter(log, StageSynthesize)
	if err := p.synthesize(ctx, res); err != nil {
		return nil, err
	}

	p.enter(log, StageReflect)
	res.Note = p.reflect(ctx, res.Insight)

	p.enter(log, StageDone)
	res.Duration = time.Since(start)
	log.Infow("cycle complete",
		"queries", len(res.Queries),
		"hits", res.Hits,
		"known", res.Known,
		"fetched", res.Fetched,
		"failed", res.Failed,
		"kept", len(res.Kept),
		"rejected", res.Rejected,
		"skipped", res.Skipped,
		"insight", res.Insight != nil,
		"duration", res.Duration,
	)
	return res, nil
}

// IngestURLs runs FETCH_FILTER and PERSIST over explicit URLs, without
// planning, synthesis or reflection.
func (p *Planner) IngestURLs(ctx context.Context, urls []string) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := logging.Get(logging.CategoryPlanner).With("run_id", res.RunID)

	seen := make(map[string]bool, len(urls))
	var hits []source.Hit
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		hits = append(hits, source.Hit{URL: u})
	}
	res.Hits = len(hits)

	p.enter(log, StageFetchFilter)
	if err := p.ingest(ctx, log, hits, res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	log.Info("Ingested %d/%d URLs, kept %d passages (%d redundant)", res.Fetched, res.Hits, len(res.Kept), res.Rejected)
	return res, nil
}

func (p *Planner) enter(log *logging.Logger, s Stage) {
	log.Debug("stage=%s", s)
}

// shuffle permutes qs with the planner's random source.
func (p *Planner) shuffle(qs []string) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	p.rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}

// isRecoverable reports whether err only affects the current item.
func isRecoverable(err error) bool {
	return source.IsFetchError(err) || embedding.IsEmbeddingError(err) || store.IsConstraintError(err)
}

func wrapStage(s Stage, err error) error {
	return fmt.Errorf("%s: %w", s, err)
}
