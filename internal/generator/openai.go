package generator

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAICompleter struct {
	client openai.Client
	model  string
}

func newOpenAICompleter(apiKey, baseURL, model string, opts ...option.RequestOption) (*openAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAICompleter{client: openai.NewClient(opts...), model: model}, nil
}

func (o *openAICompleter) name() string { return "openai:" + o.model }

func (o *openAICompleter) complete(ctx context.Context, prompt string) (completion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return completion{}, fmt.Errorf("chat completion returned no choices")
	}
	return completion{
		text:   resp.Choices[0].Message.Content,
		input:  int(resp.Usage.PromptTokens),
		output: int(resp.Usage.CompletionTokens),
	}, nil
}
