// Package logging provides categorized logging for autolearn on top of zap.
// Every subsystem logs through a category logger so output can be filtered
// per category in the config file. Before Initialize is called every logger
// is a no-op, which keeps library packages silent in tests.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // Boot/initialization
	CategoryLoop        Category = "loop"        // Loop driver, backoff, stop signal
	CategoryPlanner     Category = "planner"     // Cycle planner stages
	CategoryStore       Category = "store"       // Knowledge store operations
	CategoryEmbedding   Category = "embedding"   // Embedding engines
	CategoryNovelty     Category = "novelty"     // Novelty decisions
	CategorySource      Category = "source"      // Search and fetch
	CategoryGenerator   Category = "generator"   // LLM generator calls
	CategoryCheckpoint  Category = "checkpoint"  // Checkpoint persistence
	CategoryQA          Category = "qa"          // Question answering
	CategoryPerformance Category = "performance" // Slow operations
)

// Options configures the process-wide logger.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json or console
	OutputPath string          // file path; empty means stderr
	Categories map[string]bool // missing categories are enabled
}

// Logger is a category-scoped logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the process-wide zap logger from opts.
func Initialize(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if opts.OutputPath != "" {
		cfg.OutputPaths = []string{opts.OutputPath}
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	base = l
	categories = opts.Categories
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", level, opts.Format)
	return nil
}

// SetLogger replaces the process-wide logger. Intended for tests that
// observe log output with zaptest or the observer core.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	categories = nil
	loggers = make(map[Category]*Logger)
	mu.Unlock()
}

// ParseLevel maps a config level string to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := zap.NewNop()
	if enabled {
		z = base.Named(string(category))
	}
	l := &Logger{category: category, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// Category returns the logger's category.
func (l *Logger) Category() Category { return l.category }

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Debugw logs a message with loosely typed key-value pairs.
func (l *Logger) Debugw(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// With returns a child logger that attaches kv to every entry.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// Loop logs to the loop category
func Loop(format string, args ...interface{}) { Get(CategoryLoop).Info(format, args...) }

// LoopDebug logs debug to the loop category
func LoopDebug(format string, args ...interface{}) { Get(CategoryLoop).Debug(format, args...) }

// Planner logs to the planner category
func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...interface{}) {
	Get(CategoryPlanner).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Embedding logs to the embedding category
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Source logs to the source category
func Source(format string, args ...interface{}) { Get(CategorySource).Info(format, args...) }

// SourceDebug logs debug to the source category
func SourceDebug(format string, args ...interface{}) { Get(CategorySource).Debug(format, args...) }

// =============================================================================
// TIMING
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning to the performance category if the
// duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(CategoryPerformance).Warn("%s/%s took %v (threshold: %v)", t.category, t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
