// Package repository is the document-level API over the main collection: CRUD, search,
// structured records and collection maintenance, with a keyword index kept in step.
package repository

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/store"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// TypeStructuredRecord tags documents written by AddStructuredRecord.
const TypeStructuredRecord = "structured_record"

// Repository wraps the main collection store.
type Repository struct {
	store   *store.Store
	keyword keyword.KeywordIndex
	logger  *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithKeywordIndex mirrors every write into kw and enables KeywordSearch.
func WithKeywordIndex(kw keyword.KeywordIndex) Option {
	return func(r *Repository) { r.keyword = kw }
}

func New(s *store.Store, opts ...Option) *Repository {
	r := &Repository{store: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the underlying collection.
func (r *Repository) Store() *store.Store {
	return r.store
}

// Add stores a new document and returns its id.
func (r *Repository) Add(ctx context.Context, content string, metadata models.Metadata, id string) (string, error) {
	id, err := r.store.Add(ctx, content, metadata, id)
	if err != nil {
		return "", err
	}
	r.reindex(ctx, id)
	return id, nil
}

// AddBatch adds every input with non-blank content and returns the new ids in input
// order. It stops at the first failure, returning the ids added so far.
func (r *Repository) AddBatch(ctx context.Context, inputs []models.DocumentInput) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Content) == "" {
			continue
		}
		id, err := r.Add(ctx, in.Content, in.Metadata, in.ID)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns a document or a not-found error.
func (r *Repository) Get(ctx context.Context, id string) (*models.Document, error) {
	return r.store.Get(ctx, id)
}

// Update merges patch into the document. It reports false when id is unknown.
func (r *Repository) Update(ctx context.Context, id string, patch models.DocumentPatch) (bool, error) {
	ok, err := r.store.Update(ctx, id, patch)
	if err != nil || !ok {
		return ok, err
	}
	r.reindex(ctx, id)
	return true, nil
}

// Delete removes a document. It reports false when id is unknown.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if r.keyword != nil {
		if err := r.keyword.Delete(ctx, id); err != nil {
			r.logger.Warn("keyword delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return true, nil
}

// Search runs a similarity search over the collection.
func (r *Repository) Search(ctx context.Context, req models.SearchRequest) ([]*models.SearchResult, error) {
	return r.store.Search(ctx, req)
}

// SearchByType searches only documents whose type metadata equals docType.
func (r *Repository) SearchByType(ctx context.Context, query, docType string, k int) ([]*models.SearchResult, error) {
	return r.store.Search(ctx, models.SearchRequest{
		Query:  query,
		K:      k,
		Filter: models.Metadata{models.KeyType: docType},
	})
}

// KeywordSearch runs a full-text query and returns documents scored relative to the
// best hit.
func (r *Repository) KeywordSearch(ctx context.Context, query string, k int, opts *keyword.SearchOptions) ([]*models.SearchResult, error) {
	if r.keyword == nil {
		return nil, kuraerr.New(kuraerr.CodeConfig, "keyword index is not enabled")
	}
	results := []*models.SearchResult{}
	hits, err := r.keyword.Search(ctx, query, k, opts)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "keyword search failed")
	}
	scores := keyword.NormalizeScores(hits)
	for _, hit := range hits {
		doc, err := r.store.Get(ctx, hit.ID)
		if kuraerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, models.NewSearchResult(doc, scores[hit.ID], models.SourceKeyword))
	}
	return results, nil
}

// CollectionStats counts every document by type with a full scan. Documents without a
// type are counted as "unknown".
func (r *Repository) CollectionStats(ctx context.Context) (*models.CollectionStats, error) {
	stats := &models.CollectionStats{
		DocumentTypes: make(map[string]int),
		Collection:    r.store.Collection(),
		Location:      r.store.Location(),
	}
	err := r.store.Each(ctx, func(doc *models.Document) error {
		t := doc.Type()
		if t == "" {
			t = "unknown"
		}
		stats.DocumentTypes[t]++
		stats.TotalDocuments++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Clear irreversibly removes every document and leaves an empty collection with the
// same name and backends.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	n, err := r.store.Reset(ctx)
	if err != nil {
		return 0, err
	}
	if r.keyword != nil {
		if err := r.keyword.Reset(ctx); err != nil {
			return n, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to reset keyword index")
		}
	}
	return n, nil
}

// SyncKeywordIndex re-indexes every stored document when the keyword index count
// differs from the collection count. It returns the number of documents indexed.
func (r *Repository) SyncKeywordIndex(ctx context.Context) (int, error) {
	if r.keyword == nil {
		return 0, nil
	}
	want, err := r.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	have, err := r.keyword.DocCount()
	if err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "keyword count failed")
	}
	if int64(have) == want {
		return 0, nil
	}
	if err := r.keyword.Reset(ctx); err != nil {
		return 0, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to reset keyword index")
	}
	n := 0
	err = r.store.Each(ctx, func(doc *models.Document) error {
		if err := r.keyword.Index(ctx, doc); err != nil {
			return kuraerr.Wrap(err, kuraerr.CodeStorage, "keyword index failed", kuraerr.FieldID(doc.ID))
		}
		n++
		return nil
	})
	r.logger.Info("keyword index synced", zap.Int("documents", n))
	return n, err
}

// reindex copies the stored document into the keyword index. Failures are logged;
// SyncKeywordIndex repairs drift at startup.
func (r *Repository) reindex(ctx context.Context, id string) {
	if r.keyword == nil {
		return
	}
	doc, err := r.store.Get(ctx, id)
	if err == nil {
		err = r.keyword.Index(ctx, doc)
	}
	if err != nil {
		r.logger.Warn("keyword index failed", zap.String("id", id), zap.Error(err))
	}
}
