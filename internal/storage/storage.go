// Package storage defines the persistence interface for collection-scoped documents.
package storage

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// Storage persists documents, their metadata and embeddings, grouped by collection.
// It is the source of truth from which vector indices and derived indices are rebuilt.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, collection, id string) (*models.Document, error)
	ReplaceDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, collection, id string) (bool, error)
	ListDocuments(ctx context.Context, collection string, offset, limit int) ([]*models.Document, error)

	// Collection operations
	CountDocuments(ctx context.Context, collection string) (int64, error)
	DeleteCollection(ctx context.Context, collection string) (int64, error)
	Collections(ctx context.Context) ([]string, error)

	// Location returns where data is persisted, for status reporting.
	Location() string
	Close() error
}
