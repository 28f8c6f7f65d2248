package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

const pageSize = 500

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.storage.CountDocuments(ctx, s.collection)
}

// List returns every document in id order.
func (s *Store) List(ctx context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.ListDocuments(ctx, s.collection, 0, 0)
}

// Each calls fn for every stored document, page by page in id order, without holding
// the store lock while fn runs.
func (s *Store) Each(ctx context.Context, fn func(*models.Document) error) error {
	for offset := 0; ; offset += pageSize {
		page, err := s.storage.ListDocuments(ctx, s.collection, offset, pageSize)
		if err != nil {
			return err
		}
		for _, doc := range page {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// Reset drops every record and vector of the collection.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.storage.DeleteCollection(ctx, s.collection)
	if err != nil {
		return 0, err
	}
	if err := s.index.Reset(ctx); err != nil {
		return n, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to reset vector index")
	}
	s.logger.Info("collection cleared", zap.Int64("documents", n))
	return n, nil
}

// RebuildVectors repopulates the vector index from persisted embeddings when it is out of
// step with SQLite. Records whose embedding is missing or of the wrong dimension are
// re-embedded and written back. It returns how many vectors were indexed.
func (s *Store) RebuildVectors(ctx context.Context) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	size, err := s.index.Size(ctx)
	if err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to size vector index")
	}
	if int64(size) == count {
		return 0, nil
	}
	s.logger.Info("rebuilding vector index",
		zap.Int64("records", count), zap.Int("vectors", size))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Reset(ctx); err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to reset vector index")
	}
	dims := s.embedder.Dimensions()
	indexed := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.storage.ListDocuments(ctx, s.collection, offset, pageSize)
		if err != nil {
			return indexed, err
		}
		ids := make([]string, 0, len(page))
		vecs := make([][]float32, 0, len(page))
		for _, doc := range page {
			if len(doc.Embedding) != dims {
				if doc.Embedding, err = s.embed(ctx, doc.Content); err != nil {
					return indexed, err
				}
				if err := s.storage.ReplaceDocument(ctx, doc); err != nil {
					return indexed, err
				}
			}
			ids = append(ids, doc.ID)
			vecs = append(vecs, doc.Embedding)
		}
		if err := s.index.Add(ctx, ids, vecs); err != nil {
			return indexed, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to index vectors")
		}
		indexed += len(ids)
		if len(page) < pageSize {
			break
		}
	}
	return indexed, nil
}

// Flush persists the vector index snapshot, if the backend keeps one.
func (s *Store) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.index.Flush(); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to flush vector index")
	}
	return nil
}

// Close flushes and releases the vector index. The shared storage stays open.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.index.Close()
}
