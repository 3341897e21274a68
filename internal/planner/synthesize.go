package planner

import (
	"context"
	"fmt"
	"math"
	"strings"

	"autolearn/internal/logging"
	"autolearn/internal/store"
)

// Confidence is min(ceiling, base + increment*n).
func (c SynthesisConfig) Confidence(n int) float64 {
	return math.Min(c.ConfidenceCeiling, c.ConfidenceBase+c.ConfidenceIncrement*float64(n))
}

// synthesize stores an insight built from the cycle's kept materials. No
// kept materials means no insight.
func (p *Planner) synthesize(ctx context.Context, res *Result) error {
	if len(res.Kept) == 0 {
		return nil
	}
	sc := p.cfg.Synthesis
	inputs := res.Kept
	if len(inputs) > sc.MaxInputs {
		inputs = inputs[:sc.MaxInputs]
	}
	excerpts := make([]string, len(inputs))
	for i, m := range inputs {
		excerpts[i] = truncateRunes(strings.Join(strings.Fields(m.Text), " "), sc.InputChars)
	}

	summary := ""
	if g, ok := p.gen.Get(); ok {
		s, err := g.Summarize(ctx, summaryPrompt(p.cfg.Goal, excerpts, sc.SummaryWords))
		if err != nil {
			logging.Get(logging.CategoryPlanner).Warn("Summarizer failed, using extractive summary: %v", err)
		}
		summary = strings.TrimSpace(s)
	}
	if summary == "" {
		summary = fallbackSummary(excerpts, sc.SummaryWords, sc.SummaryChars)
	}

	in := store.InsightInput{
		Topic:      p.cfg.Goal,
		Summary:    summary,
		Confidence: sc.Confidence(len(res.Kept)),
		Sources:    sources(res.Kept, sc.MaxSources),
		CreatedAt:  p.now().UTC(),
	}
	id, err := p.store.StoreInsight(ctx, in)
	if err != nil {
		if isRecoverable(err) {
			logging.Get(logging.CategoryPlanner).Warn("Insight rejected by store: %v", err)
			return nil
		}
		return wrapStage(StageSynthesize, err)
	}
	res.Insight = &store.Insight{
		ID:         id,
		Topic:      in.Topic,
		Summary:    in.Summary,
		Confidence: in.Confidence,
		Sources:    in.Sources,
		CreatedAt:  in.CreatedAt,
	}
	logging.Planner("Insight #%d confidence=%.2f sources=%v", id, in.Confidence, in.Sources)
	return nil
}

func summaryPrompt(goal string, excerpts []string, words int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nSummarize the new knowledge in these excerpts in at most %d words.\n", goal, words)
	for i, e := range excerpts {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, e)
	}
	return sb.String()
}

// fallbackSummary takes the first words of the joined excerpts, hard-capped
// at maxChars runes.
func fallbackSummary(excerpts []string, words, maxChars int) string {
	fields := strings.Fields(strings.Join(excerpts, " "))
	if len(fields) > words {
		fields = fields[:words]
	}
	return truncateRunes(strings.Join(fields, " "), maxChars)
}

// sources returns up to limit distinct titles, using the URL for untitled
// material, in first-seen order.
func sources(kept []Material, limit int) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range kept {
		s := firstNonEmpty(m.Title, m.URL)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

// reflect produces the follow-up note for the next cycle's PLAN.
func (p *Planner) reflect(ctx context.Context, insight *store.Insight) string {
	if insight == nil {
		if p.cfg.ReflectOnEmpty {
			return gapNote(p.cfg.Goal)
		}
		return ""
	}
	if g, ok := p.gen.Get(); ok {
		lines, err := g.Generate(ctx, reflectPrompt(insight))
		if err != nil {
			logging.Get(logging.CategoryPlanner).Warn("Reflection generator failed, using gap keywords: %v", err)
		} else {
			for _, l := range lines {
				if l = strings.TrimSpace(l); l != "" {
					return l
				}
			}
		}
	}
	return gapNote(insight.Topic)
}

func reflectPrompt(in *store.Insight) string {
	return fmt.Sprintf("Topic: %s\nWhat we just learned: %s\n"+
		"Name the single most important knowledge gap to research next, as one short search phrase.",
		in.Topic, in.Summary)
}

// gapNote is the fixed reflection used without a generator.
func gapNote(topic string) string {
	return topic + ": comparison, benchmark, limitations, open problems"
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
