// Package crosssilo maintains the in-memory map from extracted entities to the documents
// that mention them, across silo types.
//
// The index is append-only: indexing the same document twice records it twice, and
// deleting a document leaves its references in place unless Prune is called. It is not
// persisted; Rebuild replays stored documents through the extractor.
package crosssilo

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kura/internal/extraction"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
)

// DefaultSiloType is recorded for documents ingested without a silo.
const DefaultSiloType = "general"

// Reference points from an entity to one indexed document.
type Reference struct {
	DocumentID string          `json:"document_id"`
	SiloType   string          `json:"silo_type"`
	Metadata   models.Metadata `json:"metadata"`
}

// Stats summarizes the index size.
type Stats struct {
	EntityTypes int            `json:"entity_types"`
	Values      int            `json:"entity_values"`
	References  int            `json:"references"`
	ByType      map[string]int `json:"values_by_type"`
}

// EntityExtractor finds entities in text. On failure it returns an empty map and an error.
type EntityExtractor interface {
	Entities(ctx context.Context, text string) (extraction.Entities, error)
}

// DocumentSource iterates stored documents for Rebuild.
type DocumentSource interface {
	Each(ctx context.Context, fn func(*models.Document) error) error
}

// Index maps entity type -> entity value -> references.
type Index struct {
	extractor EntityExtractor
	logger    *zap.Logger
	metrics   *metrics.Metrics
	workers   int

	mu      sync.RWMutex
	entries map[string]map[string][]Reference
	refs    int
}

// Option configures an Index.
type Option func(*Index)

func WithLogger(l *zap.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Index) { x.metrics = m }
}

// WithWorkers bounds concurrent extraction during Rebuild.
func WithWorkers(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.workers = n
		}
	}
}

func New(extractor EntityExtractor, opts ...Option) *Index {
	x := &Index{
		extractor: extractor,
		logger:    zap.NewNop(),
		workers:   1,
		entries:   make(map[string]map[string][]Reference),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// IndexDocument extracts entities from content and appends a reference for every
// (type, value) pair. Extraction failures are logged and index nothing. It returns the
// number of references appended.
func (x *Index) IndexDocument(ctx context.Context, docID, content string, metadata models.Metadata, siloType string) int {
	entities, err := x.extractor.Entities(ctx, content)
	if err != nil {
		x.logger.Warn("entity extraction failed, document not cross-indexed",
			zap.String("id", docID), zap.Error(err))
		return 0
	}
	return x.Add(docID, siloType, metadata, entities)
}

// Add appends references for already extracted entities.
func (x *Index) Add(docID, siloType string, metadata models.Metadata, entities extraction.Entities) int {
	if siloType == "" {
		siloType = DefaultSiloType
	}
	pairs := entities.Pairs()
	if len(pairs) == 0 {
		return 0
	}
	ref := Reference{DocumentID: docID, SiloType: siloType, Metadata: metadata.Clone()}

	x.mu.Lock()
	for _, p := range pairs {
		byValue, ok := x.entries[p[0]]
		if !ok {
			byValue = make(map[string][]Reference)
			x.entries[p[0]] = byValue
		}
		byValue[p[1]] = append(byValue[p[1]], ref)
	}
	x.refs += len(pairs)
	refs := x.refs
	x.mu.Unlock()

	x.metrics.SetCrossSiloRefs(refs)
	x.logger.Debug("document cross-indexed", zap.String("id", docID), zap.Int("references", len(pairs)))
	return len(pairs)
}

// Lookup returns a copy of the references for (entityType, value) in insertion order.
func (x *Index) Lookup(entityType, value string) []Reference {
	x.mu.RLock()
	defer x.mu.RUnlock()
	refs := x.entries[entityType][value]
	out := make([]Reference, len(refs))
	copy(out, refs)
	return out
}

// Prune removes every reference to docID and drops buckets left empty.
// It returns the number of references removed.
func (x *Index) Prune(docID string) int {
	x.mu.Lock()
	removed := 0
	for entityType, byValue := range x.entries {
		for value, refs := range byValue {
			kept := refs[:0]
			for _, r := range refs {
				if r.DocumentID == docID {
					removed++
					continue
				}
				kept = append(kept, r)
			}
			if len(kept) == 0 {
				delete(byValue, value)
			} else {
				byValue[value] = kept
			}
		}
		if len(byValue) == 0 {
			delete(x.entries, entityType)
		}
	}
	x.refs -= removed
	refs := x.refs
	x.mu.Unlock()

	x.metrics.SetCrossSiloRefs(refs)
	return removed
}

// Reset drops every entry.
func (x *Index) Reset() {
	x.mu.Lock()
	x.entries = make(map[string]map[string][]Reference)
	x.refs = 0
	x.mu.Unlock()
	x.metrics.SetCrossSiloRefs(0)
}

// Rebuild resets the index and replays every document of src. The silo type comes from
// each document's silo_type metadata. Documents indexed concurrently with a rebuild may
// be recorded twice, consistent with append semantics.
func (x *Index) Rebuild(ctx context.Context, src DocumentSource) (int, error) {
	x.Reset()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	var (
		mu      sync.Mutex
		indexed int
	)
	err := src.Each(gctx, func(doc *models.Document) error {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			siloType := doc.Metadata.String(models.KeySiloType)
			n := x.IndexDocument(gctx, doc.ID, doc.Content, doc.Metadata, siloType)
			mu.Lock()
			if n > 0 {
				indexed++
			}
			mu.Unlock()
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	x.logger.Info("cross-silo index rebuilt", zap.Int("documents", indexed), zap.Int("references", x.Stats().References))
	return indexed, err
}

// Stats reports entity type, value and reference counts.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{EntityTypes: len(x.entries), References: x.refs, ByType: make(map[string]int, len(x.entries))}
	for entityType, byValue := range x.entries {
		s.Values += len(byValue)
		s.ByType[entityType] = len(byValue)
	}
	return s
}

// EntityTypes returns the indexed entity types in sorted order.
func (x *Index) EntityTypes() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	types := make([]string, 0, len(x.entries))
	for t := range x.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
