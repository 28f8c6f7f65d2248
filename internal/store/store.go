// Package store implements a collection of embedded documents: SQLite keeps the
// records and their embeddings, a vector index answers similarity queries.
package store

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vector"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

var tracer = otel.Tracer("kura/store")

const lockStripes = 64

// Store is one named collection. Writers to the same id are serialized; readers see
// either the previous or the new version of a document, never a mix.
type Store struct {
	collection string
	storage    storage.Storage
	index      vector.VectorIndex
	embedder   embedding.Embedder
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// mu pairs every SQLite change with its vector change.
	mu    sync.RWMutex
	locks [lockStripes]sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store for collection over the given persistence, index and embedder.
func New(collection string, st storage.Storage, idx vector.VectorIndex, emb embedding.Embedder, opts ...Option) *Store {
	s := &Store{
		collection: collection,
		storage:    st,
		index:      idx,
		embedder:   emb,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("collection", collection))
	return s
}

// Collection returns the collection name.
func (s *Store) Collection() string {
	return s.collection
}

// Location reports where records are persisted.
func (s *Store) Location() string {
	return s.storage.Location()
}

func (s *Store) lockID(id string) func() {
	m := &s.locks[xxhash.Sum64String(id)%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Store) embed(ctx context.Context, content string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to embed content")
	}
	return vec, nil
}

func prepare(content string, metadata models.Metadata) (models.Metadata, error) {
	if strings.TrimSpace(content) == "" {
		return nil, kuraerr.New(kuraerr.CodeValidation, "content must not be empty")
	}
	meta, err := models.NormalizeMetadata(metadata)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid metadata")
	}
	meta[models.KeyContentLength] = float64(utf8.RuneCountInString(content))
	return meta, nil
}

// Add stores a new document and returns its id. An empty id is replaced by a UUID;
// an id already present in the collection is a validation error.
func (s *Store) Add(ctx context.Context, content string, metadata models.Metadata, id string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "Store.Add")
	defer span.End()
	defer func() {
		s.metrics.DocumentOp(s.collection, "add", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	meta, err := prepare(content, metadata)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("collection", s.collection), attribute.String("id", id))

	unlock := s.lockID(id)
	defer unlock()

	vec, err := s.embed(ctx, content)
	if err != nil {
		return "", err
	}
	doc := &models.Document{ID: id, Collection: s.collection, Content: content, Metadata: meta, Embedding: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.CreateDocument(ctx, doc); err != nil {
		return "", err
	}
	if err := s.index.Add(ctx, []string{id}, [][]float32{vec}); err != nil {
		s.restore(ctx, id, nil)
		return "", kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to index vector", kuraerr.FieldID(id))
	}
	s.logger.Debug("document added", zap.String("id", id), zap.Int("length", len(content)))
	return id, nil
}

// Put creates id or replaces it entirely, metadata included.
func (s *Store) Put(ctx context.Context, id, content string, metadata models.Metadata) (err error) {
	ctx, span := tracer.Start(ctx, "Store.Put")
	defer span.End()
	defer func() { s.metrics.DocumentOp(s.collection, "put", err) }()

	if id == "" {
		return kuraerr.New(kuraerr.CodeValidation, "id must not be empty")
	}
	meta, err := prepare(content, metadata)
	if err != nil {
		return err
	}
	unlock := s.lockID(id)
	defer unlock()

	vec, err := s.embed(ctx, content)
	if err != nil {
		return err
	}
	doc := &models.Document{ID: id, Collection: s.collection, Content: content, Metadata: meta, Embedding: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.storage.GetDocument(ctx, s.collection, id)
	switch {
	case kuraerr.IsNotFound(err):
		prev = nil
		err = s.storage.CreateDocument(ctx, doc)
	case err == nil:
		err = s.storage.ReplaceDocument(ctx, doc)
	}
	if err != nil {
		return err
	}
	if err := s.index.Add(ctx, []string{id}, [][]float32{vec}); err != nil {
		s.restore(ctx, id, prev)
		return kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to index vector", kuraerr.FieldID(id))
	}
	return nil
}

// restore puts back the record that a failed vector write replaced, or removes the
// record when there was none. The caller holds s.mu.
func (s *Store) restore(ctx context.Context, id string, prev *models.Document) {
	var err error
	if prev == nil {
		_, err = s.storage.DeleteDocument(ctx, s.collection, id)
	} else {
		err = s.storage.ReplaceDocument(ctx, prev)
	}
	if err != nil {
		s.logger.Error("rollback after index failure", zap.String("id", id), zap.Error(err))
	}
}

// Get returns a stored document or a not-found error.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.GetDocument(ctx, s.collection, id)
}

// Update merges patch into the stored document. Supplied metadata keys overwrite, all
// other keys are kept; a content change recomputes the embedding. It returns false when
// id is not stored.
func (s *Store) Update(ctx context.Context, id string, patch models.DocumentPatch) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "Store.Update")
	defer span.End()
	defer func() { s.metrics.DocumentOp(s.collection, "update", err) }()
	span.SetAttributes(attribute.String("collection", s.collection), attribute.String("id", id))

	unlock := s.lockID(id)
	defer unlock()

	existing, err := s.Get(ctx, id)
	if kuraerr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	content := existing.Content
	if patch.Content != nil {
		content = *patch.Content
	}
	patchMeta, err := models.NormalizeMetadata(patch.Metadata)
	if err != nil {
		return false, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid metadata")
	}
	meta, err := prepare(content, existing.Metadata.Merge(patchMeta))
	if err != nil {
		return false, err
	}

	vec := existing.Embedding
	reembed := content != existing.Content || len(vec) != s.embedder.Dimensions()
	if reembed {
		if vec, err = s.embed(ctx, content); err != nil {
			return false, err
		}
	}
	doc := &models.Document{ID: id, Collection: s.collection, Content: content, Metadata: meta, Embedding: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.ReplaceDocument(ctx, doc); err != nil {
		if kuraerr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if reembed {
		if err := s.index.Add(ctx, []string{id}, [][]float32{vec}); err != nil {
			s.restore(ctx, id, existing)
			return false, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to index vector", kuraerr.FieldID(id))
		}
	}
	return true, nil
}

// Delete removes id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (_ bool, err error) {
	defer func() { s.metrics.DocumentOp(s.collection, "delete", err) }()
	unlock := s.lockID(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.storage.DeleteDocument(ctx, s.collection, id)
	if err != nil || !deleted {
		return false, err
	}
	if err := s.index.Remove(ctx, []string{id}); err != nil {
		return true, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to remove vector", kuraerr.FieldID(id))
	}
	return true, nil
}

// Search embeds req.Query and returns up to req.K documents ordered by descending
// similarity, ties broken by ascending id. req.Filter and req.Type restrict candidates by
// exact metadata match; req.MinScore drops anything less similar. An empty query or a
// non-positive K yields no results.
func (s *Store) Search(ctx context.Context, req models.SearchRequest) (_ []*models.SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	started := time.Now()
	results := []*models.SearchResult{}
	defer func() {
		s.metrics.Search(s.collection, started, len(results))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if strings.TrimSpace(req.Query) == "" || req.K <= 0 {
		return results, nil
	}
	filter, err := models.NormalizeMetadata(req.Filter)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid filter")
	}
	if req.Type != "" {
		filter[models.KeyType] = req.Type
	}
	span.SetAttributes(attribute.String("collection", s.collection), attribute.Int("k", req.K))

	qvec, err := embedding.EmbedQuery(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to embed query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	size, err := s.index.Size(ctx)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "failed to size vector index")
	}
	if size == 0 {
		return results, nil
	}
	hits, err := s.index.Search(ctx, qvec, size)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "vector search failed")
	}
	// hits are already in final order, so the first K accepted are the answer
	for _, hit := range hits {
		if req.MinScore != nil && hit.Score < *req.MinScore {
			break
		}
		doc, err := s.storage.GetDocument(ctx, s.collection, hit.ID)
		if kuraerr.IsNotFound(err) {
			s.logger.Debug("vector without record", zap.String("id", hit.ID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if !doc.Metadata.Matches(filter) {
			continue
		}
		results = append(results, models.NewSearchResult(doc, hit.Score, models.SourceMain))
		if len(results) == req.K {
			break
		}
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}
