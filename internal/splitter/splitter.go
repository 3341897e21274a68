// Package splitter turns extracted page text into candidate passages.
//
// Two strategies exist and are never mixed within one pass:
//
//   - greedy: words are accumulated until the joined text reaches
//     MaxChunkLen characters, then flushed with no overlap. A trailing
//     buffer shorter than MinChunkLen is dropped.
//   - window: a fixed window of WindowWords words advancing by
//     WindowWords-OverlapWords, so consecutive passages share OverlapWords.
//
// In both, passages with fewer than MinWords words are dropped as noise.
// Lengths are counted in characters (runes), not model tokens.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Strategy names a splitting algorithm.
type Strategy string

const (
	Greedy Strategy = "greedy"
	Window Strategy = "window"
)

// Config selects and tunes a strategy.
type Config struct {
	Strategy     Strategy
	MinChunkLen  int
	MaxChunkLen  int
	WindowWords  int
	OverlapWords int
	MinWords     int
}

// DefaultConfig returns the greedy 400..1200 character configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:     Greedy,
		MinChunkLen:  400,
		MaxChunkLen:  1200,
		WindowWords:  800,
		OverlapWords: 120,
		MinWords:     30,
	}
}

// Splitter splits text into passages, in document order.
type Splitter interface {
	Split(text string) []string
	Strategy() Strategy
}

// New builds the splitter selected by cfg.
func New(cfg Config) (Splitter, error) {
	if cfg.MinWords < 0 {
		return nil, fmt.Errorf("min_words must be >= 0, got %d", cfg.MinWords)
	}
	switch cfg.Strategy {
	case Greedy, "":
		if cfg.MaxChunkLen < 1 || cfg.MinChunkLen > cfg.MaxChunkLen {
			return nil, fmt.Errorf("need min_chunk_len <= max_chunk_len and max_chunk_len >= 1, got %d/%d", cfg.MinChunkLen, cfg.MaxChunkLen)
		}
		return &GreedySplitter{minLen: cfg.MinChunkLen, maxLen: cfg.MaxChunkLen, minWords: cfg.MinWords}, nil
	case Window:
		if cfg.WindowWords < 1 || cfg.OverlapWords < 0 || cfg.OverlapWords >= cfg.WindowWords {
			return nil, fmt.Errorf("need 0 <= overlap_words < window_words, got %d/%d", cfg.OverlapWords, cfg.WindowWords)
		}
		return &WindowSplitter{window: cfg.WindowWords, overlap: cfg.OverlapWords, minWords: cfg.MinWords}, nil
	}
	return nil, fmt.Errorf("unknown split strategy %q", cfg.Strategy)
}

// GreedySplitter implements the greedy character-bounded strategy.
type GreedySplitter struct {
	minLen   int
	maxLen   int
	minWords int
}

func (g *GreedySplitter) Strategy() Strategy { return Greedy }

func (g *GreedySplitter) Split(text string) []string {
	var out []string
	var buf []string
	size := 0 // rune length of strings.Join(buf, " ")

	flush := func() {
		if len(buf) >= g.minWords {
			out = append(out, strings.Join(buf, " "))
		}
		buf = buf[:0]
		size = 0
	}

	for _, w := range strings.Fields(text) {
		if len(buf) > 0 {
			size++
		}
		buf = append(buf, w)
		size += utf8.RuneCountInString(w)
		if size >= g.maxLen {
			flush()
		}
	}
	if len(buf) > 0 && size >= g.minLen {
		flush()
	}
	return out
}

// WindowSplitter implements the overlapping word-window strategy.
type WindowSplitter struct {
	window   int
	overlap  int
	minWords int
}

func (w *WindowSplitter) Strategy() Strategy { return Window }

func (w *WindowSplitter) Split(text string) []string {
	words := strings.Fields(text)
	step := w.window - w.overlap
	var out []string
	for i := 0; i < len(words); i += step {
		end := i + w.window
		if end > len(words) {
			end = len(words)
		}
		if end-i >= w.minWords && end-i > 0 {
			out = append(out, strings.Join(words[i:end], " "))
		}
		if end == len(words) {
			break
		}
	}
	return out
}

// WordCount returns the number of whitespace-delimited words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
