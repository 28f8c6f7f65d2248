package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	lru *lru.Cache[string, []float32]
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	c, _ := lru.New[string, []float32](capacity)
	return &EmbeddingCache{lru: c}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	return c.lru.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.lru.Add(key, value)
}

func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

// CachedEmbedder memoizes another Embedder. Query and passage embeddings are cached separately.
type CachedEmbedder struct {
	inner   Embedder
	passage *EmbeddingCache
	query   *EmbeddingCache
}

// NewCachedEmbedder wraps inner with an LRU of the given size. A size <= 0 returns inner unchanged.
func NewCachedEmbedder(inner Embedder, size int) Embedder {
	if size <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		passage: NewEmbeddingCache(size),
		query:   NewEmbeddingCache(size),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.passage.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.passage.Set(text, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if _, ok := c.inner.(QueryEmbedder); !ok {
		return c.Embed(ctx, text)
	}
	if v, ok := c.query.Get(text); ok {
		return v, nil
	}
	v, err := EmbedQuery(ctx, c.inner, text)
	if err != nil {
		return nil, err
	}
	c.query.Set(text, v)
	return v, nil
}

// EmbedBatch serves hits from the cache and sends only misses to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, t := range texts {
		if v, ok := c.passage.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}
	embs, err := c.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = embs[j]
		c.passage.Set(missText[j], embs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Close() error { return c.inner.Close() }
