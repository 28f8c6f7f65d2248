// Package vector provides vector index and similarity search.
package vector

import (
	"cmp"
	"context"
	"slices"
)

// VectorIndex stores one collection's vectors keyed by document id.
// Add replaces the vector of an id that is already present.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits ordered by descending cosine similarity,
	// ties broken by ascending id.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Reset drops every vector of the collection.
	Reset(ctx context.Context) error
	// Flush persists in-memory state; backends that write through return nil.
	Flush() error
	// Size returns the number of stored vectors.
	Size(ctx context.Context) (int, error)
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity; 1 - Score is the cosine distance
}

// sortResults orders hits by descending score, then ascending id.
func sortResults(results []*VectorResult) {
	slices.SortFunc(results, func(a, b *VectorResult) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
