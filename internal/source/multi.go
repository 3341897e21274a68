package source

import (
	"context"
	"fmt"
	"strings"

	"autolearn/internal/logging"
)

// Multi concatenates the hits of several searchers in order. A failing
// searcher is logged and skipped; Search fails only when all of them do.
type Multi struct {
	searchers []Searcher
}

// NewMulti combines searchers. Nil entries are ignored.
func NewMulti(searchers ...Searcher) *Multi {
	m := &Multi{}
	for _, s := range searchers {
		if s != nil {
			m.searchers = append(m.searchers, s)
		}
	}
	return m
}

// Len returns the number of combined searchers.
func (m *Multi) Len() int { return len(m.searchers) }

func (m *Multi) Name() string {
	names := make([]string, len(m.searchers))
	for i, s := range m.searchers {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *Multi) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if len(m.searchers) == 0 {
		return nil, fmt.Errorf("no searchers configured")
	}
	var hits []Hit
	var errs []string
	for _, s := range m.searchers {
		got, err := s.Search(ctx, query, maxResults)
		if err != nil {
			logging.Get(logging.CategorySource).Warn("Searcher %s failed for %q: %v", s.Name(), query, err)
			errs = append(errs, s.Name()+": "+err.Error())
			continue
		}
		hits = append(hits, got...)
	}
	if len(errs) == len(m.searchers) {
		return nil, fmt.Errorf("all searchers failed: %s", strings.Join(errs, "; "))
	}
	return hits, nil
}
