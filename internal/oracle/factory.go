package oracle

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// Provider names accepted by New.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// New builds the configured provider behind a Guarded wrapper.
func New(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (Oracle, error) {
	var (
		inner Oracle
		err   error
	)
	switch cfg.Provider {
	case ProviderNone, "":
		inner = Unavailable{}
	case ProviderOpenAI:
		inner, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderAnthropic:
		inner, err = NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderGemini:
		inner, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOllama:
		inner, err = NewOllama(cfg.BaseURL, cfg.Model)
	default:
		return nil, kuraerr.Errorf(kuraerr.CodeConfig,
			"unknown oracle provider: %s (supported: none, openai, anthropic, gemini, ollama)", cfg.Provider)
	}
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeConfig, "failed to create oracle provider")
	}
	if logger != nil {
		logger.Info("oracle configured", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	}
	return NewGuarded(inner, cfg.Timeout, cfg.RequestsPerSecond, cfg.Burst, logger), nil
}
