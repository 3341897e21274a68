// Package generator provides the optional text generator used to suggest
// queries, summarize kept material and reflect on knowledge gaps.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autolearn/internal/logging"
)

// Generator produces text from a prompt.
type Generator interface {
	// Generate returns the non-empty lines of the completion, with list
	// markers stripped.
	Generate(ctx context.Context, prompt string) ([]string, error)
	// Summarize returns the whole completion, trimmed.
	Summarize(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Option is either Absent or Present(g). It is resolved once at startup so
// callers branch on it instead of re-checking the environment per call.
type Option struct {
	g Generator
}

// Absent is the option with no generator.
func Absent() Option { return Option{} }

// Present wraps g. A nil g is Absent.
func Present(g Generator) Option { return Option{g: g} }

// Get returns the generator and whether it is present.
func (o Option) Get() (Generator, bool) { return o.g, o.g != nil }

// IsPresent reports whether a generator is configured.
func (o Option) IsPresent() bool { return o.g != nil }

func (o Option) String() string {
	if o.g == nil {
		return "absent"
	}
	return o.g.Name()
}

// Recorder receives the token usage of every completed call.
type Recorder interface {
	Track(provider, model, operation string, input, output int)
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "", genai, openai
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	Usage    Recorder // optional
}

// New resolves the configured backend. An empty provider yields Absent.
func New(cfg Config) (Option, error) {
	var (
		c   completer
		err error
	)
	switch cfg.Provider {
	case "":
		logging.Get(logging.CategoryGenerator).Info("No generator configured; using deterministic fallbacks")
		return Absent(), nil
	case "genai":
		c, err = newGenAICompleter(cfg.APIKey, cfg.Model)
	case "openai":
		c, err = newOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return Absent(), fmt.Errorf("unknown generator provider: %s", cfg.Provider)
	}
	if err != nil {
		return Absent(), err
	}
	logging.Get(logging.CategoryGenerator).Info("Generator resolved: %s", c.name())
	return Present(&textGenerator{c: c, timeout: cfg.Timeout, usage: cfg.Usage}), nil
}

// completion is a backend reply with its token counts, zero when the
// backend does not report them.
type completion struct {
	text   string
	input  int
	output int
}

// completer is a single-prompt completion backend. name is "provider:model".
type completer interface {
	complete(ctx context.Context, prompt string) (completion, error)
	name() string
}

// textGenerator adapts a completer to Generator, bounding each call by
// timeout when set.
type textGenerator struct {
	c       completer
	timeout time.Duration
	usage   Recorder
}

func (t *textGenerator) Name() string { return t.c.name() }

func (t *textGenerator) call(ctx context.Context, operation, prompt string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	timer := logging.StartTimer(logging.CategoryGenerator, t.c.name())
	defer timer.StopWithThreshold(30 * time.Second)

	out, err := t.c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.c.name(), err)
	}
	if t.usage != nil {
		provider, model, _ := strings.Cut(t.c.name(), ":")
		t.usage.Track(provider, model, operation, out.input, out.output)
	}
	return out.text, nil
}

func (t *textGenerator) Generate(ctx context.Context, prompt string) ([]string, error) {
	out, err := t.call(ctx, "generate", prompt)
	if err != nil {
		return nil, err
	}
	return Lines(out), nil
}

func (t *textGenerator) Summarize(ctx context.Context, prompt string) (string, error) {
	out, err := t.call(ctx, "summarize", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Lines splits a completion into trimmed non-empty lines, removing leading
// bullets and "1." / "2)" style numbering.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•")
		line = stripNumbering(strings.TrimSpace(line))
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func stripNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
