package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"autolearn/internal/logging"
)

// ErrZeroVector is returned when a vector has no magnitude and cannot be
// normalized.
var ErrZeroVector = errors.New("zero-magnitude vector")

// Normalize scales v to unit L2 length in place and returns it.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("vector contains non-finite value")
		}
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v, nil
}

// Norm returns the L2 length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of two equal-length vectors. For unit vectors
// this is their cosine similarity.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return Dot(a, b) / (na * nb), nil
}

// Normalized wraps an Engine so every returned vector is unit length and of
// the engine's declared dimension. Any backend failure surfaces as an
// *EmbeddingError.
type Normalized struct {
	inner Engine
	dims  int
	batch int // max texts per backend call; 0 = unlimited
}

// NewNormalized wraps inner.
func NewNormalized(inner Engine) *Normalized {
	return &Normalized{inner: inner, dims: inner.Dimensions()}
}

// WithBatchSize caps how many texts one backend call receives. Larger
// batches passed to EmbedBatch are split into consecutive calls.
func (n *Normalized) WithBatchSize(size int) *Normalized {
	if size < 0 {
		size = 0
	}
	n.batch = size
	return n
}

// Inner returns the wrapped engine.
func (n *Normalized) Inner() Engine { return n.inner }

func (n *Normalized) Dimensions() int { return n.dims }

func (n *Normalized) Name() string { return n.inner.Name() }

func (n *Normalized) check(index int, v []float32) ([]float32, error) {
	if n.dims > 0 && len(v) != n.dims {
		return nil, &EmbeddingError{
			Engine: n.inner.Name(),
			Index:  index,
			Err:    fmt.Errorf("dimension mismatch: got %d, want %d", len(v), n.dims),
		}
	}
	out := make([]float32, len(v))
	copy(out, v)
	if _, err := Normalize(out); err != nil {
		return nil, &EmbeddingError{Engine: n.inner.Name(), Index: index, Err: err}
	}
	return out, nil
}

// Embed embeds a single text.
func (n *Normalized) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := n.inner.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Engine: n.inner.Name(), Index: -1, Err: err}
	}
	return n.check(-1, v)
}

// EmbedBatch embeds texts in order. A failure anywhere fails the batch; the
// caller may retry item by item with Embed.
func (n *Normalized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	timer := logging.StartTimer(logging.CategoryEmbedding, "EmbedBatch")
	defer timer.Stop()

	size := n.batch
	if size == 0 || size > len(texts) {
		size = len(texts)
	}
	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		part, err := n.inner.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, &EmbeddingError{Engine: n.inner.Name(), Index: -1, Err: err}
		}
		vecs = append(vecs, part...)
	}
	if len(vecs) != len(texts) {
		return nil, &EmbeddingError{
			Engine: n.inner.Name(),
			Index:  -1,
			Err:    fmt.Errorf("engine returned %d vectors for %d texts", len(vecs), len(texts)),
		}
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		var err error
		if out[i], err = n.check(i, v); err != nil {
			return nil, err
		}
	}
	logging.EmbeddingDebug("Embedded batch of %d texts with %s", len(texts), n.inner.Name())
	return out, nil
}

// HealthCheck delegates to the wrapped engine when it supports probing.
func (n *Normalized) HealthCheck(ctx context.Context) error {
	if hc, ok := n.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close releases the wrapped engine's resources when it holds any.
func (n *Normalized) Close() error {
	if c, ok := n.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
