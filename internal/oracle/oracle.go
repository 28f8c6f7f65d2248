// Package oracle adapts text-generation providers to a single prompt-in, text-out call.
package oracle

import (
	"context"

	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// GenerateOptions tunes one generation.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Oracle generates text from a prompt.
type Oracle interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

func (f Func) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return f(ctx, prompt, opts)
}

// Static returns an Oracle that always answers text.
func Static(text string) Oracle {
	return Func(func(context.Context, string, GenerateOptions) (string, error) {
		return text, nil
	})
}

// Unavailable is used when no provider is configured. Every call fails with an
// extraction error, so oracle-backed features degrade to their empty results.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string, GenerateOptions) (string, error) {
	return "", kuraerr.New(kuraerr.CodeExtraction, "no oracle provider configured")
}
