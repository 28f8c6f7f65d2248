// Package patterns keeps the success patterns mined from winning documents and the
// frequency tables aggregated over them.
package patterns

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/store"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// Default sizes of the aggregated frequency tables.
const (
	DefaultTopElements   = 20
	DefaultTopStrategies = 15
)

// Extractor synthesizes pattern fields for a success document.
type Extractor interface {
	Patterns(ctx context.Context, content string, metadata models.Metadata, siloType string) (models.PatternFields, error)
}

// Store persists patterns as documents of a dedicated collection. Patterns are
// append-only; statistics are recomputed in full after every insertion.
type Store struct {
	docs          *store.Store
	extractor     Extractor
	logger        *zap.Logger
	metrics       *metrics.Metrics
	topElements   int
	topStrategies int
	now           func() time.Time
	seq           atomic.Int64

	mu    sync.RWMutex
	stats models.AggregatedStatistics
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

// WithTopN overrides the table sizes. Non-positive values keep the defaults.
func WithTopN(elements, strategies int) Option {
	return func(s *Store) {
		if elements > 0 {
			s.topElements = elements
		}
		if strategies > 0 {
			s.topStrategies = strategies
		}
	}
}

// WithClock replaces time.Now for extracted_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(docs *store.Store, extractor Extractor, opts ...Option) *Store {
	s := &Store{
		docs:          docs,
		extractor:     extractor,
		logger:        zap.NewNop(),
		topElements:   DefaultTopElements,
		topStrategies: DefaultTopStrategies,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats = emptyStats()
	return s
}

func emptyStats() models.AggregatedStatistics {
	return models.AggregatedStatistics{
		CommonElements:    []models.FrequencyEntry{},
		WinningStrategies: []models.FrequencyEntry{},
	}
}

// Collection returns the backing collection name.
func (s *Store) Collection() string {
	return s.docs.Collection()
}

// Extract synthesizes a pattern for a success document and stores it. Extraction
// failures return an extraction error and store nothing.
func (s *Store) Extract(ctx context.Context, docID, content string, metadata models.Metadata, siloType string) (*models.SuccessPattern, error) {
	fields, err := s.extractor.Patterns(ctx, content, metadata, siloType)
	if err != nil {
		return nil, err
	}
	p := &models.SuccessPattern{
		SiloType:         siloType,
		SourceDocumentID: docID,
		ExtractedAt:      s.now().UTC(),
		Fields:           fields,
		Metadata:         metadata,
	}
	if err := s.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Insert stores p, assigning an id when empty, and recomputes the statistics.
func (s *Store) Insert(ctx context.Context, p *models.SuccessPattern) error {
	if p.Fields.Empty() {
		return kuraerr.New(kuraerr.CodeValidation, "success pattern has no fields")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ExtractedAt.IsZero() {
		p.ExtractedAt = s.now().UTC()
	}
	content, err := json.Marshal(p.Fields)
	if err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeValidation, "failed to encode pattern", kuraerr.FieldID(p.ID))
	}
	meta := p.Metadata.Clone()
	meta[models.KeySiloType] = p.SiloType
	meta[models.KeySourceDoc] = p.SourceDocumentID
	meta[models.KeyExtractedAt] = p.ExtractedAt.Format(time.RFC3339Nano)
	meta[models.KeySequence] = float64(s.seq.Add(1))

	if _, err := s.docs.Add(ctx, string(content), meta, p.ID); err != nil {
		return err
	}
	s.logger.Info("success pattern stored",
		zap.String("id", p.ID), zap.String("silo_type", p.SiloType), zap.String("source_doc", p.SourceDocumentID))
	return s.Load(ctx)
}

// Load recomputes the statistics from every stored pattern.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []*models.Document
	err := s.docs.Each(ctx, func(doc *models.Document) error {
		stored = append(stored, doc)
		return nil
	})
	if err != nil {
		return err
	}
	// first-seen order follows insertion. Patterns stored without a sequence sort
	// ahead of numbered ones by creation time.
	sort.SliceStable(stored, func(i, j int) bool {
		si, sj := sequenceOf(stored[i]), sequenceOf(stored[j])
		if si != sj {
			return si < sj
		}
		if !stored[i].CreatedAt.Equal(stored[j].CreatedAt) {
			return stored[i].CreatedAt.Before(stored[j].CreatedAt)
		}
		return stored[i].ID < stored[j].ID
	})
	if n := len(stored); n > 0 {
		s.advanceSequence(sequenceOf(stored[n-1]))
	}

	elements := newCounter()
	strategies := newCounter()
	total := 0
	for _, doc := range stored {
		fields, err := decodeFields(doc.Content)
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		total++
		elements.add(fields.KeyElements...)
		strategies.add(fields.Strategies...)
	}

	s.stats = models.AggregatedStatistics{
		CommonElements:    elements.top(s.topElements),
		WinningStrategies: strategies.top(s.topStrategies),
		TotalPatterns:     total,
		UpdatedAt:         s.now().UTC(),
	}
	s.metrics.SetPatterns(total)
	return nil
}

// Statistics returns a copy of the last computed tables.
func (s *Store) Statistics() models.AggregatedStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.CommonElements = append([]models.FrequencyEntry{}, s.stats.CommonElements...)
	out.WinningStrategies = append([]models.FrequencyEntry{}, s.stats.WinningStrategies...)
	return out
}

// RebuildVectors repopulates the pattern vector index from storage.
func (s *Store) RebuildVectors(ctx context.Context) (int, error) {
	return s.docs.RebuildVectors(ctx)
}

// Flush persists the pattern vector index.
func (s *Store) Flush() error {
	return s.docs.Flush()
}

// Count returns the number of stored patterns.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.docs.Count(ctx)
}

// Get returns one stored pattern.
func (s *Store) Get(ctx context.Context, id string) (*models.SuccessPattern, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(doc.Content)
	if err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeStorage, "corrupt pattern", kuraerr.FieldID(id))
	}
	p := &models.SuccessPattern{
		ID:               doc.ID,
		SiloType:         doc.Metadata.String(models.KeySiloType),
		SourceDocumentID: doc.Metadata.String(models.KeySourceDoc),
		Fields:           fields,
		Metadata:         doc.Metadata,
	}
	if ts, err := time.Parse(time.RFC3339Nano, doc.Metadata.String(models.KeyExtractedAt)); err == nil {
		p.ExtractedAt = ts
	}
	return p, nil
}

// Search returns up to k pattern documents most similar to query. A non-empty
// siloTypes keeps only patterns whose silo_type is one of them.
func (s *Store) Search(ctx context.Context, query string, k int, siloTypes []string) ([]*models.SearchResult, error) {
	if len(siloTypes) == 0 {
		return s.search(ctx, query, k, nil)
	}
	var merged []*models.SearchResult
	seen := make(map[string]bool, len(siloTypes))
	for _, t := range siloTypes {
		if seen[t] {
			continue
		}
		seen[t] = true
		hits, err := s.search(ctx, query, k, models.Metadata{models.KeySiloType: t})
		if err != nil {
			return nil, err
		}
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

func (s *Store) search(ctx context.Context, query string, k int, filter models.Metadata) ([]*models.SearchResult, error) {
	hits, err := s.docs.Search(ctx, models.SearchRequest{Query: query, K: k, Filter: filter})
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		h.Source = models.SourceSuccessPattern
	}
	return hits, nil
}

// Match returns up to k patterns for query restricted by an exact metadata filter,
// decoded for recommendation synthesis. Undecodable patterns are skipped.
func (s *Store) Match(ctx context.Context, query string, k int, filter models.Metadata) ([]models.PatternMatch, error) {
	hits, err := s.search(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	matches := make([]models.PatternMatch, 0, len(hits))
	for _, h := range hits {
		fields, err := decodeFields(h.Content)
		if err != nil {
			s.logger.Debug("skipping undecodable pattern", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		matches = append(matches, models.PatternMatch{
			ID:        h.ID,
			Patterns:  fields,
			Metadata:  h.Metadata,
			Relevance: h.Similarity,
		})
	}
	return matches, nil
}

// Reset drops every stored pattern and clears the statistics.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	n, err := s.docs.Reset(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.stats = emptyStats()
	s.mu.Unlock()
	s.metrics.SetPatterns(0)
	return n, nil
}

// advanceSequence moves the insertion counter forward to at least to.
func (s *Store) advanceSequence(to int64) {
	for {
		cur := s.seq.Load()
		if to <= cur || s.seq.CompareAndSwap(cur, to) {
			return
		}
	}
}

func sequenceOf(doc *models.Document) int64 {
	f, _ := doc.Metadata[models.KeySequence].(float64)
	return int64(f)
}

func decodeFields(content string) (models.PatternFields, error) {
	var fields models.PatternFields
	err := json.Unmarshal([]byte(content), &fields)
	return fields, err
}

// counter counts values and remembers the order they were first seen in.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(values ...string) {
	for _, v := range values {
		if _, ok := c.counts[v]; !ok {
			c.order = append(c.order, v)
		}
		c.counts[v]++
	}
}

func (c *counter) top(n int) []models.FrequencyEntry {
	entries := make([]models.FrequencyEntry, 0, len(c.order))
	for _, v := range c.order {
		entries = append(entries, models.FrequencyEntry{Value: v, Count: c.counts[v]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
