// Package qa answers questions from the knowledge store, topped up with a
// few freshly fetched web pages. With a generator the answer is written from
// a bounded context; without one the best-matching sentences are quoted.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"autolearn/internal/embedding"
	"autolearn/internal/generator"
	"autolearn/internal/logging"
	"autolearn/internal/source"
	"autolearn/internal/store"
)

// NoAnswer is the answer text when neither memory nor the web had anything.
const NoAnswer = "No sufficient answer found yet."

// Retriever is the part of the knowledge store questions are answered from.
type Retriever interface {
	NearestPassages(ctx context.Context, query []float32, k int) ([]store.Neighbor, error)
}

// Config bounds how much material goes into an answer.
type Config struct {
	MemoryK           int   // passages recalled from the store
	WebResults        int   // search hits requested; 0 disables the web
	WebFetches        int   // hits actually fetched
	PageChars         int   // fetched text kept per page
	ContextChars      int   // characters of each excerpt placed in the prompt
	FallbackSentences int   // sentences quoted when there is no generator
	MaxFetchBytes     int64 // 0 lets the fetcher decide
}

// DefaultConfig returns the standard answer bounds.
func DefaultConfig() Config {
	return Config{
		MemoryK:           6,
		WebResults:        5,
		WebFetches:        3,
		PageChars:         2000,
		ContextChars:      400,
		FallbackSentences: 2,
	}
}

// Deps are the collaborators of an Answerer. Searcher and Fetcher may be
// nil, which answers from memory only; Generator may be Absent.
type Deps struct {
	Store     Retriever
	Engine    embedding.Engine
	Searcher  source.Searcher
	Fetcher   source.Fetcher
	Generator generator.Option
}

// Excerpt is one piece of context an answer draws on.
type Excerpt struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity,omitempty"` // memory only
	FromMemory bool    `json:"from_memory"`
}

// Answer is the reply to one question.
type Answer struct {
	Question      string        `json:"question"`
	Text          string        `json:"answer"`
	Sources       []string      `json:"sources"`
	Excerpts      []Excerpt     `json:"excerpts"`
	UsedGenerator bool          `json:"used_generator"`
	Duration      time.Duration `json:"duration"`
}

// MemoryHits counts the excerpts recalled from the store.
func (a *Answer) MemoryHits() int {
	n := 0
	for _, e := range a.Excerpts {
		if e.FromMemory {
			n++
		}
	}
	return n
}

// Answerer answers questions. It only reads the store.
type Answerer struct {
	cfg      Config
	store    Retriever
	engine   embedding.Engine
	searcher source.Searcher
	fetcher  source.Fetcher
	gen      generator.Option
}

// New creates an Answerer.
func New(cfg Config, deps Deps) (*Answerer, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("qa: store is required")
	case deps.Engine == nil:
		return nil, errors.New("qa: embedding engine is required")
	}
	def := DefaultConfig()
	if cfg.MemoryK <= 0 {
		cfg.MemoryK = def.MemoryK
	}
	if cfg.WebFetches < 0 {
		cfg.WebFetches = 0
	}
	if cfg.PageChars <= 0 {
		cfg.PageChars = def.PageChars
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = def.ContextChars
	}
	if cfg.FallbackSentences <= 0 {
		cfg.FallbackSentences = def.FallbackSentences
	}
	return &Answerer{
		cfg:      cfg,
		store:    deps.Store,
		engine:   deps.Engine,
		searcher: deps.Searcher,
		fetcher:  deps.Fetcher,
		gen:      deps.Generator,
	}, nil
}

// Ask answers question. Web failures only shrink the context; embedding and
// store failures are returned.
func (a *Answerer) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("qa: empty question")
	}
	start := time.Now()
	log := logging.Get(logging.CategoryQA)

	vec, err := a.engine.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	neighbors, err := a.store.NearestPassages(ctx, vec, a.cfg.MemoryK)
	if err != nil {
		return nil, fmt.Errorf("failed to recall passages: %w", err)
	}

	excerpts := make([]Excerpt, 0, len(neighbors)+a.cfg.WebFetches)
	for _, n := range neighbors {
		excerpts = append(excerpts, Excerpt{
			Title:      n.Title,
			URL:        n.URL,
			Text:       n.Text,
			Similarity: n.Similarity,
			FromMemory: true,
		})
	}
	excerpts = append(excerpts, a.web(ctx, log, question)...)

	ans := &Answer{Question: question, Excerpts: excerpts, Sources: sources(excerpts)}
	if len(excerpts) == 0 {
		ans.Text = NoAnswer
		ans.Duration = time.Since(start)
		return ans, nil
	}

	if g, ok := a.gen.Get(); ok {
		text, err := g.Summarize(ctx, answerPrompt(question, excerpts, a.cfg.ContextChars))
		switch {
		case err != nil:
			log.Warn("Generator failed, quoting passages instead: %v", err)
		case strings.TrimSpace(text) != "":
			ans.Text = strings.TrimSpace(text)
			ans.UsedGenerator = true
		}
	}
	if !ans.UsedGenerator {
		ans.Text = extractive(question, excerpts, a.cfg.FallbackSentences)
	}

	ans.Duration = time.Since(start)
	log.Infow("question answered",
		"memory", ans.MemoryHits(),
		"web", len(excerpts)-ans.MemoryHits(),
		"generator", ans.UsedGenerator,
		"duration", ans.Duration,
	)
	return ans, nil
}

// web fetches the first few search hits for question. Failures are logged
// and the page is left out; results keep hit order.
func (a *Answerer) web(ctx context.Context, log *logging.Logger, question string) []Excerpt {
	if a.searcher == nil || a.fetcher == nil || a.cfg.WebResults <= 0 || a.cfg.WebFetches == 0 {
		return nil
	}
	hits, err := a.searcher.Search(ctx, question, a.cfg.WebResults)
	if err != nil {
		log.Warn("Web search failed, answering from memory: %v", err)
		return nil
	}
	if len(hits) > a.cfg.WebFetches {
		hits = hits[:a.cfg.WebFetches]
	}

	pages := make([]*Excerpt, len(hits))
	g := new(errgroup.Group)
	for i, h := range hits {
		g.Go(func() error {
			page, err := a.fetcher.Fetch(ctx, h.URL, a.cfg.MaxFetchBytes)
			if err != nil {
				log.Warn("Skipping %s: %v", h.URL, err)
				return nil
			}
			text := strings.TrimSpace(page.Text)
			if text == "" {
				return nil
			}
			title := page.Title
			if title == "" {
				title = h.Title
			}
			pages[i] = &Excerpt{Title: title, URL: h.URL, Text: truncate(text, a.cfg.PageChars)}
			return nil
		})
	}
	g.Wait()

	var out []Excerpt
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// sources lists excerpt URLs, memory first, without duplicates.
func sources(excerpts []Excerpt) []string {
	seen := make(map[string]bool, len(excerpts))
	out := []string{}
	for _, e := range excerpts {
		if e.URL == "" || seen[e.URL] {
			continue
		}
		seen[e.URL] = true
		out = append(out, e.URL)
	}
	return out
}

func answerPrompt(question string, excerpts []Excerpt, chars int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", question)
	sb.WriteString("Start with a precise, short answer, then give supporting points. ")
	sb.WriteString("Cite the source URLs you rely on. Use only the context below.\n")

	section := func(heading string, memory bool) {
		first := true
		for _, e := range excerpts {
			if e.FromMemory != memory {
				continue
			}
			if first {
				fmt.Fprintf(&sb, "\n## %s\n", heading)
				first = false
			}
			fmt.Fprintf(&sb, "- %s (%s)\n  %s\n", e.Title, e.URL, truncate(e.Text, chars))
		}
	}
	section("From memory", true)
	section("From the web", false)
	return sb.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
