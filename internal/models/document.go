// Package models defines core data structures for documents, search results, and success patterns.
package models

import "time"

// Document is a stored record. Embedding is owned by the vector store and recomputed
// whenever Content changes.
type Document struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection,omitempty"`
	Content    string    `json:"content"`
	Metadata   Metadata  `json:"metadata"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Type returns the document's "type" metadata tag, or "" when unset.
func (d *Document) Type() string {
	return d.Metadata.String(KeyType)
}

// DocumentInput is the input for creating a document.
type DocumentInput struct {
	ID       string   `json:"id,omitempty"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
	SiloType string   `json:"silo_type,omitempty"`
}

// DocumentPatch is the input for updating a document. Nil Content keeps the stored text;
// Metadata keys overwrite stored keys and every other key is preserved.
type DocumentPatch struct {
	Content  *string  `json:"content,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// CollectionStats is an exact per-type breakdown of one collection.
type CollectionStats struct {
	TotalDocuments int            `json:"total_documents"`
	DocumentTypes  map[string]int `json:"document_types"`
	Collection     string         `json:"collection_name"`
	Location       string         `json:"persist_directory,omitempty"`
}

// StructuredRecord holds the labeled fields serialized by AddStructuredRecord.
type StructuredRecord struct {
	Description  string   `json:"description,omitempty" yaml:"description"`
	Categories   []string `json:"categories,omitempty" yaml:"categories"`
	Requirements []string `json:"requirements,omitempty" yaml:"requirements"`
	Priorities   []string `json:"priorities,omitempty" yaml:"priorities"`
	Locator      string   `json:"locator,omitempty" yaml:"locator"`
	Deadlines    string   `json:"deadlines,omitempty" yaml:"deadlines"`
	Contacts     []string `json:"contacts,omitempty" yaml:"contacts"`
	Source       string   `json:"source,omitempty" yaml:"source"`
	UpdatedAt    string   `json:"updated_at,omitempty" yaml:"updated_at"`
}
