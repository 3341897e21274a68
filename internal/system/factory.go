// Package system wires every autolearn component from a configuration.
// It is the only place that knows about concrete backends; everything
// downstream receives interfaces.
package system

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"autolearn/internal/checkpoint"
	"autolearn/internal/config"
	"autolearn/internal/embedding"
	"autolearn/internal/generator"
	"autolearn/internal/logging"
	"autolearn/internal/loop"
	"autolearn/internal/novelty"
	"autolearn/internal/planner"
	"autolearn/internal/qa"
	"autolearn/internal/source"
	"autolearn/internal/splitter"
	"autolearn/internal/store"
	"autolearn/internal/usage"
)

// healthCheckTimeout bounds the startup health check of remote embedding engines.
const healthCheckTimeout = 10 * time.Second

// System is a fully wired learner.
type System struct {
	Config      *config.Config
	Engine      embedding.Engine
	Store       *store.Store
	Searcher    source.Searcher
	Fetcher     source.Fetcher
	Generator   generator.Option
	Usage       *usage.Tracker // nil when usage accounting is disabled
	Planner     *planner.Planner
	QA          *qa.Answerer
	Checkpoints *checkpoint.FileStore
	Stop        *loop.FileStopSignal // nil when no stop file is configured
	Driver      *loop.Driver
}

// BootConfig holds the configuration plus optional overrides. Overrides
// replace the backend the configuration would otherwise select; tests use
// them to stay offline.
type BootConfig struct {
	Config *config.Config

	// SkipLogging leaves the process logger untouched.
	SkipLogging bool

	EngineOverride    embedding.Engine
	SearcherOverride  source.Searcher
	FetcherOverride   source.Fetcher
	GeneratorOverride *generator.Option
	Rand              *rand.Rand

	DriverOptions []loop.Option
}

// Boot wires a System from cfg.
func Boot(ctx context.Context, cfg *config.Config) (*System, error) {
	return BootWithConfig(ctx, BootConfig{Config: cfg})
}

// BootWithConfig wires a System. Any problem that makes the configuration
// unusable (invalid values, an unreachable engine, an unopenable store) is
// returned as a *config.ConfigError.
func BootWithConfig(ctx context.Context, bc BootConfig) (_ *System, err error) {
	cfg := bc.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// 1. Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. Logging
	if !bc.SkipLogging {
		if err := initLogging(cfg); err != nil {
			return nil, err
		}
	}
	timer := logging.StartTimer(logging.CategoryBoot, "Boot")
	defer timer.Stop()
	logging.Boot("Booting autolearn: goal=%q", cfg.Goal)

	sys := &System{Config: cfg}
	defer func() {
		if err != nil {
			sys.Close()
		}
	}()

	// 3. Embedding engine
	if bc.EngineOverride != nil {
		sys.Engine = bc.EngineOverride
	} else {
		ec := embedding.Config{
			Provider:       cfg.Embedding.Provider,
			Dimensions:     cfg.Embedding.Dimensions,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			TaskType:       cfg.Embedding.TaskType,
			OpenAIAPIKey:   cfg.Embedding.OpenAIAPIKey,
			OpenAIBaseURL:  cfg.Embedding.OpenAIBaseURL,
			OpenAIModel:    cfg.Embedding.OpenAIModel,
			BatchSize:      cfg.Embedding.BatchSize,
		}
		engine, err := embedding.NewEngine(ec)
		if err != nil {
			return nil, config.Wrap("embedding.provider", err)
		}
		sys.Engine = engine
	}
	if hc, ok := sys.Engine.(embedding.HealthChecker); ok {
		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := hc.HealthCheck(hctx)
		cancel()
		if err != nil {
			return nil, config.Wrap("embedding.provider", fmt.Errorf("health check failed: %w", err))
		}
	}

	// 4. Knowledge store
	st, err := store.Open(ctx, store.Options{
		Path:        cfg.Store.DatabasePath,
		Dimensions:  sys.Engine.Dimensions(),
		BusyTimeout: cfg.GetBusyTimeout(),
	})
	if err != nil {
		return nil, config.Wrap("store.database_path", err)
	}
	sys.Store = st

	// 5. Sources
	sys.Searcher = bc.SearcherOverride
	if sys.Searcher == nil {
		sys.Searcher = buildSearcher(cfg)
	}
	sys.Fetcher = bc.FetcherOverride
	if sys.Fetcher == nil {
		sys.Fetcher = source.NewHTTPFetcher(source.FetcherConfig{
			Timeout:   cfg.GetFetchTimeout(),
			UserAgent: cfg.Fetch.UserAgent,
			Markdown:  cfg.Fetch.Markdown,
		})
	}

	// 6. Generator (resolved once; absent is a normal state)
	if cfg.Generator.UsageFile != "" {
		sys.Usage = usage.NewTracker(cfg.Generator.UsageFile)
	}
	if bc.GeneratorOverride != nil {
		sys.Generator = *bc.GeneratorOverride
	} else {
		gen, err := buildGenerator(cfg, sys.Usage)
		if err != nil {
			return nil, err
		}
		sys.Generator = gen
	}
	logging.Boot("Generator: %s", sys.Generator)

	// 7. Splitter and novelty filter
	sp, err := splitter.New(splitter.Config{
		Strategy:     splitter.Strategy(cfg.Splitter.Strategy),
		MinChunkLen:  cfg.Splitter.MinChunkLen,
		MaxChunkLen:  cfg.Splitter.MaxChunkLen,
		WindowWords:  cfg.Splitter.WindowWords,
		OverlapWords: cfg.Splitter.OverlapWords,
		MinWords:     cfg.Splitter.MinWords,
	})
	if err != nil {
		return nil, config.Wrap("splitter", err)
	}
	filter := novelty.New(cfg.Novelty.Threshold, cfg.Novelty.K)

	// 8. Planner and question answering
	pl, err := planner.New(plannerConfig(cfg), planner.Deps{
		Store:     st,
		Engine:    sys.Engine,
		Splitter:  sp,
		Filter:    filter,
		Searcher:  sys.Searcher,
		Fetcher:   sys.Fetcher,
		Generator: sys.Generator,
		Rand:      bc.Rand,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	sys.Planner = pl

	ans, err := qa.New(qa.Config{
		MemoryK:           cfg.Ask.MemoryK,
		WebResults:        cfg.Ask.WebResults,
		WebFetches:        cfg.Ask.WebFetches,
		PageChars:         cfg.Ask.PageChars,
		ContextChars:      cfg.Ask.ContextChars,
		FallbackSentences: cfg.Ask.FallbackSentences,
		MaxFetchBytes:     cfg.Fetch.MaxBytes,
	}, qa.Deps{
		Store:     st,
		Engine:    sys.Engine,
		Searcher:  sys.Searcher,
		Fetcher:   sys.Fetcher,
		Generator: sys.Generator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create answerer: %w", err)
	}
	sys.QA = ans

	// 9. Checkpoint, stop signal and driver
	sys.Checkpoints = checkpoint.NewFileStore(cfg.Checkpoint.Path)
	var stop loop.StopSignal
	if cfg.Checkpoint.StopFile != "" {
		sys.Stop = loop.NewFileStopSignal(cfg.Checkpoint.StopFile)
		stop = sys.Stop
	}
	sys.Driver = loop.New(loop.Config{
		IdleInterval:   cfg.GetIdleInterval(),
		BackoffFloor:   cfg.GetBackoffFloor(),
		BackoffCeiling: cfg.GetBackoffCeiling(),
	}, pl, sys.Checkpoints, stop, bc.DriverOptions...)

	logging.Boot("Boot complete: engine=%s store=%s searcher=%s", sys.Engine.Name(), st.Path(), sys.Searcher.Name())
	return sys, nil
}

func initLogging(cfg *config.Config) error {
	if err := logging.Initialize(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return config.Wrap("logging", err)
	}
	return nil
}

func buildGenerator(cfg *config.Config, tracker *usage.Tracker) (generator.Option, error) {
	gc := generator.Config{
		Provider: cfg.Generator.Provider,
		APIKey:   cfg.Generator.APIKey,
		Model:    cfg.Generator.Model,
		BaseURL:  cfg.Generator.BaseURL,
		Timeout:  cfg.GetGeneratorTimeout(),
	}
	if tracker != nil {
		gc.Usage = tracker
	}
	gen, err := generator.New(gc)
	if err != nil {
		return generator.Absent(), config.Wrap("generator.provider", err)
	}
	return gen, nil
}

// buildSearcher combines every enabled search source.
func buildSearcher(cfg *config.Config) source.Searcher {
	var ddg, feeds source.Searcher
	if cfg.Search.DuckDuckGo {
		ddg = source.NewDuckDuckGo(cfg.Search.Endpoint, cfg.GetSearchTimeout(), cfg.Fetch.UserAgent)
	}
	if len(cfg.Search.Feeds) > 0 {
		feeds = source.NewFeedSearcher(cfg.Search.Feeds, cfg.GetFeedTTL(), cfg.GetSearchTimeout(), cfg.Fetch.UserAgent)
	}
	m := source.NewMulti(ddg, feeds)
	logging.Boot("Search sources: %s", m.Name())
	return m
}

func plannerConfig(cfg *config.Config) planner.Config {
	y := cfg.Synthesis
	return planner.Config{
		Goal:            cfg.Goal,
		QueriesPerCycle: cfg.Loop.QueriesPerCycle,
		ResultsPerQuery: cfg.Loop.ResultsPerQuery,
		Workers:         cfg.Loop.Workers,
		MinTextLen:      cfg.GetMinTextLen(),
		MaxFetchBytes:   cfg.Fetch.MaxBytes,
		ReflectOnEmpty:  cfg.Loop.ReflectOnEmpty,
		Synthesis: planner.SynthesisConfig{
			MaxInputs:           y.MaxInputs,
			InputChars:          y.InputChars,
			SummaryWords:        y.SummaryWords,
			SummaryChars:        y.SummaryChars,
			MaxSources:          y.MaxSources,
			ConfidenceBase:      y.ConfidenceBase,
			ConfidenceIncrement: y.ConfidenceIncrement,
			ConfidenceCeiling:   y.ConfidenceCeiling,
		},
	}
}
