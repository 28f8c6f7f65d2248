//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastembedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// FastEmbedder runs a downloaded BGE or MiniLM model via fastembed-go.
// Passages and queries get the model's respective prefixes.
type FastEmbedder struct {
	model      *fastembed.FlagEmbedding
	dimensions int
	mu         sync.RWMutex
}

// NewFastEmbedder downloads the model into cacheDir on first use.
func NewFastEmbedder(model, cacheDir string, maxLength int) (*FastEmbedder, error) {
	m, ok := fastembedModels[model]
	if !ok {
		m = fastembed.EmbeddingModel(model)
		if _, known := fastembedDimensions[m]; !known {
			return nil, fmt.Errorf("unsupported fastembed model %q", model)
		}
	}
	if maxLength <= 0 {
		maxLength = 512
	}
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                m,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize fastembed: %w", err)
	}
	return &FastEmbedder{model: flag, dimensions: fastembedDimensions[m]}, nil
}

func (f *FastEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

func (f *FastEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	embs, err := f.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("fastembed passage: %w", err)
	}
	return embs, nil
}

func (f *FastEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	emb, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("fastembed query: %w", err)
	}
	return emb, nil
}

func (f *FastEmbedder) Dimensions() int { return f.dimensions }

func (f *FastEmbedder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
