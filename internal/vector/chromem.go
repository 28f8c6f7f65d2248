package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

var errNoEmbedder = errors.New("chromem collection stores precomputed embeddings only")

// ChromemIndex keeps one collection in an embedded chromem-go database.
// Embeddings are always supplied by the caller; chromem never embeds text itself.
type ChromemIndex struct {
	db         *chromem.DB
	name       string
	dimensions int
	coll       *chromem.Collection
	mu         sync.RWMutex
}

func newChromemIndex(db *chromem.DB, name string, dimensions int) (*ChromemIndex, error) {
	c := &ChromemIndex{db: db, name: name, dimensions: dimensions}
	coll, err := db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection %s: %w", name, err)
	}
	c.coll = coll
	return c, nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func (c *ChromemIndex) Type() string {
	return string(IndexTypeChromem)
}

// Add upserts vectors; chromem replaces documents that share an id.
func (c *ChromemIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != c.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), c.dimensions)
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != c.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), c.dimensions)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.coll.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	if k > n {
		k = n
	}
	hits, err := c.coll.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	results := make([]*VectorResult, len(hits))
	for i, h := range hits {
		results[i] = &VectorResult{ID: h.ID, Score: float64(h.Similarity)}
	}
	sortResults(results)
	return results, nil
}

func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (c *ChromemIndex) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("chromem drop %s: %w", c.name, err)
	}
	coll, err := c.db.GetOrCreateCollection(c.name, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("chromem recreate %s: %w", c.name, err)
	}
	c.coll = coll
	return nil
}

// Flush is a no-op: the persistent DB writes every document through.
func (c *ChromemIndex) Flush() error { return nil }

func (c *ChromemIndex) Size(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coll.Count(), nil
}

// Close leaves the shared database open; the Factory owns it.
func (c *ChromemIndex) Close() error { return nil }
