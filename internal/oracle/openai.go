package oracle

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4.1-mini"

// OpenAI calls the Chat Completions API. BaseURL also serves OpenAI-compatible servers.
type OpenAI struct {
	client openaisdk.Client
	model  string
}

func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openaisdk.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(prompt)},
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	params.Temperature = param.NewOpt(opts.Temperature)

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
