// Package indexer ingests documents into the main collection and derives the
// cross-silo references and success patterns that depend on them.
package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/patterns"
	"github.com/hyperjump/kura/internal/repository"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

var tracer = otel.Tracer("kura/indexer")

// Indexer writes documents through the repository and enriches them. Enrichment is
// best-effort: oracle failures are logged and never fail the write.
type Indexer struct {
	repo          *repository.Repository
	crossSilo     *crosssilo.Index
	patterns      *patterns.Store
	files         *extract.Extractor
	logger        *zap.Logger
	metrics       *metrics.Metrics
	pruneOnDelete bool
	pool          *pool
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithFileExtractor sets the text extractor used by IndexFile. Without one files are
// read as plain text.
func WithFileExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.files = e }
}

// WithPruneOnDelete removes a deleted document's cross-silo references.
func WithPruneOnDelete(prune bool) IndexerOption {
	return func(idx *Indexer) { idx.pruneOnDelete = prune }
}

// WithAsync moves enrichment onto a pool of n workers. Writes return once the document
// is stored; Flush waits for the enrichment queued so far.
func WithAsync(workers int) IndexerOption {
	return func(idx *Indexer) {
		if workers > 0 {
			idx.pool = newPool(workers)
		}
	}
}

// NewIndexer creates an indexer. patternStore may be nil to disable pattern mining.
func NewIndexer(repo *repository.Repository, index *crosssilo.Index, patternStore *patterns.Store, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		repo:      repo,
		crossSilo: index,
		patterns:  patternStore,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// siloOf picks the silo from the explicit value, then the metadata, then the default.
func siloOf(siloType string, metadata models.Metadata) string {
	if siloType != "" {
		return siloType
	}
	if s := metadata.String(models.KeySiloType); s != "" {
		return s
	}
	return crosssilo.DefaultSiloType
}

// AddDocument stores in with its silo type recorded under silo_type, then cross-indexes
// it and, for success documents, mines a pattern.
func (idx *Indexer) AddDocument(ctx context.Context, in models.DocumentInput) (string, error) {
	ctx, span := tracer.Start(ctx, "Indexer.AddDocument")
	defer span.End()

	siloType := siloOf(in.SiloType, in.Metadata)
	meta := in.Metadata.Clone()
	meta[models.KeySiloType] = siloType

	id, err := idx.repo.Add(ctx, in.Content, meta, in.ID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("id", id), attribute.String("silo_type", siloType))
	doc, err := idx.repo.Get(ctx, id)
	if err != nil {
		return id, err
	}
	idx.enrich(ctx, doc, siloType, doc.Metadata.IsSuccess())
	return id, nil
}

// AddBatch adds every input with non-blank content and returns the new ids.
func (idx *Indexer) AddBatch(ctx context.Context, inputs []models.DocumentInput) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if isBlank(in.Content) {
			continue
		}
		id, err := idx.AddDocument(ctx, in)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateDocument applies patch and re-enriches the stored result. Cross-silo references
// are appended again rather than replaced. A pattern is mined only when the update turns
// a document into a success case; editing a document that already is one mines nothing.
func (idx *Indexer) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) (bool, error) {
	before, err := idx.repo.Get(ctx, id)
	if kuraerr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := idx.repo.Update(ctx, id, patch)
	if err != nil || !ok {
		return ok, err
	}
	doc, err := idx.repo.Get(ctx, id)
	if err != nil {
		return true, err
	}
	mine := !before.Metadata.IsSuccess() && doc.Metadata.IsSuccess()
	idx.enrich(ctx, doc, siloOf("", doc.Metadata), mine)
	return true, nil
}

// DeleteDocument removes a document. Its cross-silo references stay unless pruning on
// delete is enabled.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) (bool, error) {
	ok, err := idx.repo.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if idx.pruneOnDelete {
		n := idx.crossSilo.Prune(id)
		idx.logger.Debug("cross-silo references pruned", zap.String("id", id), zap.Int("references", n))
	}
	return true, nil
}

// enrich runs inline or on the pool. Queued work keeps ctx values but not its
// cancellation, so a finished request does not abort its enrichment.
func (idx *Indexer) enrich(ctx context.Context, doc *models.Document, siloType string, mine bool) {
	if idx.pool == nil {
		idx.runEnrichment(ctx, doc, siloType, mine)
		return
	}
	detached := context.WithoutCancel(ctx)
	idx.metrics.AddQueued(1)
	if !idx.pool.submit(func() {
		defer idx.metrics.AddQueued(-1)
		idx.runEnrichment(detached, doc, siloType, mine)
	}) {
		idx.metrics.AddQueued(-1)
		idx.runEnrichment(ctx, doc, siloType, mine)
	}
}

func (idx *Indexer) runEnrichment(ctx context.Context, doc *models.Document, siloType string, mine bool) {
	ctx, span := tracer.Start(ctx, "Indexer.enrich")
	defer span.End()
	started := time.Now()

	refs := idx.crossSilo.IndexDocument(ctx, doc.ID, doc.Content, doc.Metadata, siloType)
	span.SetAttributes(attribute.Int("references", refs))

	if mine && idx.patterns != nil {
		p, err := idx.patterns.Extract(ctx, doc.ID, doc.Content, doc.Metadata, siloType)
		if err != nil {
			span.RecordError(err)
			idx.logger.Warn("success pattern extraction failed", zap.String("id", doc.ID), zap.Error(err))
		} else {
			span.SetAttributes(attribute.String("pattern_id", p.ID))
		}
	}
	idx.logger.Debug("document enriched",
		zap.String("id", doc.ID), zap.Int("references", refs), zap.Duration("took", time.Since(started)))
}

// Flush waits until all queued enrichment has finished.
func (idx *Indexer) Flush() {
	if idx.pool != nil {
		idx.pool.flush()
	}
}

// Close drains queued enrichment and stops the workers.
func (idx *Indexer) Close() {
	if idx.pool != nil {
		idx.pool.close()
	}
}
