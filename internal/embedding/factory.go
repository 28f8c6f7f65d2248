package embedding

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderHash      = "hash"
	ProviderONNX      = "onnx"
	ProviderFastEmbed = "fastembed"
)

// Options configures New.
type Options struct {
	Provider   string
	ModelPath  string // onnx model file
	Model      string // fastembed model name
	CacheDir   string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New builds the configured embedder wrapped in an LRU cache.
// When a model-backed provider cannot start, it logs a warning and falls back to
// the hash embedder so the store stays usable.
func New(opts Options, logger *zap.Logger) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderHash, "":
		e = NewHashEmbedder(opts.Dimensions)
	case ProviderONNX:
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderFastEmbed:
		var f *FastEmbedder
		f, err = NewFastEmbedder(opts.Model, opts.CacheDir, opts.MaxTokens)
		if err == nil {
			if opts.Dimensions > 0 && f.Dimensions() != opts.Dimensions {
				_ = f.Close()
				return nil, fmt.Errorf("fastembed model %s has %d dimensions, configured %d", opts.Model, f.Dimensions(), opts.Dimensions)
			}
			e = f
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hash, onnx, fastembed)", opts.Provider)
	}
	if err != nil {
		if logger != nil {
			logger.Warn("embedding provider unavailable, using hash embedder",
				zap.String("provider", opts.Provider), zap.Error(err))
		}
		e = NewHashEmbedder(opts.Dimensions)
	}
	return NewCachedEmbedder(e, opts.CacheSize), nil
}
