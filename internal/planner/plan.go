package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"autolearn/internal/logging"
	"autolearn/internal/source"
)

// templates returns the five goal-qualified baseline queries. The last one
// follows up on the most recent note when there is one.
func templates(goal string, notes []string) []string {
	last := goal + " limitations open problems"
	for i := len(notes) - 1; i >= 0; i-- {
		if n := strings.TrimSpace(notes[i]); n != "" {
			last = n
			break
		}
	}
	return []string{
		goal,
		goal + " latest developments",
		goal + " explained in depth",
		goal + " comparison benchmark",
		last,
	}
}

// plan produces the cycle's queries. With a generator, its suggestions
// replace all but the first two shuffled templates; a failing generator
// falls back to the template plan.
func (p *Planner) plan(ctx context.Context, notes []string) []string {
	qs := templates(p.cfg.Goal, notes)
	p.shuffle(qs)

	if g, ok := p.gen.Get(); ok {
		suggestions, err := g.Generate(ctx, queryPrompt(p.cfg.Goal, notes, p.cfg.QueriesPerCycle))
		if err != nil {
			logging.Get(logging.CategoryPlanner).Warn("Query generator failed, using templates: %v", err)
		} else {
			merged := append([]string{}, qs[:2]...)
			merged = append(merged, suggestions...)
			merged = append(merged, qs[2:]...) // pad when suggestions run short
			qs = merged
		}
	}
	return truncate(dedupe(qs), p.cfg.QueriesPerCycle)
}

func queryPrompt(goal string, notes []string, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are planning web research on: %s\n", goal)
	if len(notes) > 0 {
		sb.WriteString("Recent follow-up notes:\n")
		from := len(notes) - 3
		if from < 0 {
			from = 0
		}
		for _, n := range notes[from:] {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
	}
	fmt.Fprintf(&sb, "Suggest %d concise web search queries that fill knowledge gaps. One query per line, no commentary.", n)
	return sb.String()
}

// dedupe drops empty and case-insensitively repeated strings, keeping order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func truncate(in []string, n int) []string {
	if n >= 0 && len(in) > n {
		return in[:n]
	}
	return in
}

// search collects hits for every query, deduplicated by URL and sorted.
// A failing query is logged and skipped; the stage fails only when every
// query fails.
func (p *Planner) search(ctx context.Context, queries []string) ([]source.Hit, error) {
	var hits []source.Hit
	seen := make(map[string]bool)
	var failures int
	var lastErr error
	for _, q := range queries {
		got, err := p.searcher.Search(ctx, q, p.cfg.ResultsPerQuery)
		if err != nil {
			failures++
			lastErr = err
			logging.Get(logging.CategoryPlanner).Warn("Search failed for %q: %v", q, err)
			continue
		}
		if len(got) > p.cfg.ResultsPerQuery {
			got = got[:p.cfg.ResultsPerQuery]
		}
		for _, h := range got {
			if h.URL == "" || seen[h.URL] {
				continue
			}
			seen[h.URL] = true
			hits = append(hits, h)
		}
	}
	if len(queries) > 0 && failures == len(queries) {
		return nil, wrapStage(StageSearch, fmt.Errorf("all %d queries failed: %w", failures, lastErr))
	}
	SortHits(hits)
	return hits, nil
}

// SortHits orders hits by published date descending with undated hits
// last, then by title and URL.
func SortHits(hits []source.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		switch {
		case a.PublishedAt != nil && b.PublishedAt != nil:
			if !a.PublishedAt.Equal(*b.PublishedAt) {
				return a.PublishedAt.After(*b.PublishedAt)
			}
		case a.PublishedAt != nil:
			return true
		case b.PublishedAt != nil:
			return false
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.URL < b.URL
	})
}
