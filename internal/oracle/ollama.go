package oracle

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaModel = "llama3.2"

// Ollama talks to a local Ollama server through langchaingo.
type Ollama struct {
	llm *ollama.LLM
}

func NewOllama(baseURL, model string) (*Ollama, error) {
	if model == "" {
		model = defaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return &Ollama{llm: llm}, nil
}

func (o *Ollama) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return out, nil
}
