// Package keyword provides a full-text companion index for the main collection.
package keyword

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// SearchOptions tune keyword search. Nil means exact term matching.
type SearchOptions struct {
	// Type restricts hits to documents whose "type" metadata equals it.
	Type string
	// FuzzyEnabled matches terms within Fuzziness edits (default 1).
	FuzzyEnabled bool
	Fuzziness    int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// Reset drops every indexed document.
	Reset(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
