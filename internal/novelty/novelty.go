// Package novelty decides whether a candidate passage adds anything to what
// the knowledge store already holds.
package novelty

import (
	"context"
	"fmt"

	"autolearn/internal/logging"
	"autolearn/internal/store"
)

// Defaults for Filter.
const (
	DefaultThreshold = 0.82
	DefaultK         = 8

	// exactMatch absorbs float32 rounding so an identical vector is never
	// novel, even at threshold 1.
	exactMatch = 1 - 1e-6
)

// Searcher is the part of the knowledge store the filter reads.
type Searcher interface {
	NearestPassages(ctx context.Context, query []float32, k int) ([]store.Neighbor, error)
}

// Decision is the outcome of one check.
type Decision struct {
	Novel bool
	// MaxSimilarity is the highest similarity seen, or 0 when the store
	// was empty.
	MaxSimilarity float64
	// NearestID is the most similar passage, or 0 when none exists.
	NearestID int64
}

// Filter accepts a candidate iff its highest similarity to any of the K
// nearest stored passages is strictly below Threshold. The filter holds no
// state; the store is the only memory.
type Filter struct {
	Threshold float64
	K         int
}

// New returns a filter, applying defaults for zero values.
func New(threshold float64, k int) Filter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if k <= 0 {
		k = DefaultK
	}
	return Filter{Threshold: threshold, K: k}
}

// Check compares a unit vector against the store.
func (f Filter) Check(ctx context.Context, s Searcher, vector []float32) (Decision, error) {
	neighbors, err := s.NearestPassages(ctx, vector, f.K)
	if err != nil {
		return Decision{}, fmt.Errorf("novelty check: %w", err)
	}
	if len(neighbors) == 0 {
		return Decision{Novel: true}, nil
	}

	// Neighbors are ordered best first.
	best := neighbors[0]
	d := Decision{
		Novel:         best.Similarity < f.Threshold && best.Similarity < exactMatch,
		MaxSimilarity: best.Similarity,
		NearestID:     best.PassageID,
	}
	logging.Get(logging.CategoryNovelty).Debug("novel=%v max_similarity=%.4f nearest=%d threshold=%.2f",
		d.Novel, d.MaxSimilarity, d.NearestID, f.Threshold)
	return d, nil
}
