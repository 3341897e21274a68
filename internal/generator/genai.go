package generator

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type genAICompleter struct {
	client *genai.Client
	model  string
}

func newGenAICompleter(apiKey, model string) (*genAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &genAICompleter{client: client, model: model}, nil
}

func (g *genAICompleter) name() string { return "genai:" + g.model }

func (g *genAICompleter) complete(ctx context.Context, prompt string) (completion, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return completion{}, fmt.Errorf("generate content failed: %w", err)
	}
	out := completion{text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.input = int(u.PromptTokenCount)
		out.output = int(u.CandidatesTokenCount)
	}
	return out, nil
}
