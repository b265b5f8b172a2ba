package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// openaiCompleter streams completions from an OpenAI-compatible endpoint.
// Each role's base URL/API key/model is resolved by the Gateway before
// reaching here (§4.2.1 "Selects endpoint and model by role"), so this
// type stays provider-agnostic across the per-role gateways used in
// front of self-hosted or vendor-hosted OpenAI-compatible APIs.
type openaiCompleter struct {
	client openai.Client
}

// NewOpenAICompleter builds a Completer bound to a single role's endpoint.
func NewOpenAICompleter(endpoint Endpoint) Completer {
	opts := []option.RequestOption{option.WithAPIKey(endpoint.APIKey)}
	if endpoint.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(endpoint.BaseURL))
	}
	return &openaiCompleter{client: openai.NewClient(opts...)}
}

func (c *openaiCompleter) Stream(ctx context.Context, model, systemPrompt, userPrompt string, onDelta func(StreamDelta)) error {
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onDelta(StreamDelta{Text: choice.Delta.Content})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: stream error: %w", err)
	}
	return nil
}
