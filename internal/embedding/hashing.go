package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// =============================================================================
// FEATURE HASHING ENGINE
// =============================================================================

// HashingEngine is a deterministic, offline embedder. Lower-cased word
// unigrams and bigrams are hashed into a fixed number of signed buckets.
// Identical texts always produce identical vectors, and texts sharing most
// of their vocabulary land close together.
type HashingEngine struct {
	dims int
}

// NewHashingEngine creates a hashing engine producing dims-sized vectors.
func NewHashingEngine(dims int) (*HashingEngine, error) {
	if dims < 1 {
		return nil, fmt.Errorf("hashing engine requires dimensions >= 1, got %d", dims)
	}
	return &HashingEngine{dims: dims}, nil
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit. Single-rune tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func (e *HashingEngine) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % uint64(e.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Embed generates an embedding for a single text. The vector is not
// normalized here; Normalized takes care of that.
func (e *HashingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("text has no tokens: %w", ErrZeroVector)
	}
	v := make([]float32, e.dims)
	for i, tok := range tokens {
		e.add(v, tok, 1)
		if i > 0 {
			e.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return v, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *HashingEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashingEngine) Name() string { return fmt.Sprintf("hashing:%d", e.dims) }
