package keyword

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kura/internal/models"
)

// indexedDoc is what bleve stores for each document.
type indexedDoc struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	SiloType string `json:"silo_type"`
}

// BleveIndex implements KeywordIndex using Bleve. An empty path keeps the index in memory.
type BleveIndex struct {
	path  string
	index bleve.Index
	mu    sync.RWMutex
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// standard analyzer: lowercase and tokenize without stemming, so "bayes" matches "Bayes"
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("content", text)

	tag := bleve.NewTextFieldMapping()
	tag.Analyzer = keywordanalyzer.Name
	doc.AddFieldMappingsAt("type", tag)
	doc.AddFieldMappingsAt("silo_type", tag)

	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or reopens the index at path.
// Changing newMapping requires removing the directory; callers rebuild it from storage.
func NewBleveIndex(path string) (*BleveIndex, error) {
	idx, err := openIndex(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: idx}, nil
}

func openIndex(path string) (bleve.Index, error) {
	if path == "" {
		return bleve.NewMemOnly(newMapping())
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return idx, nil
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

// Index adds or replaces doc.
func (b *BleveIndex) Index(ctx context.Context, doc *models.Document) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Index(doc.ID, indexedDoc{
		Content:  doc.Content,
		Type:     doc.Metadata.String(models.KeyType),
		SiloType: doc.Metadata.String(models.KeySiloType),
	})
}

// Search runs a match query (or per-term fuzzy queries) over content and returns up to
// limit hits by descending score, ties by ascending id.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	var q blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		q = mq
	}
	if opts != nil && opts.Type != "" {
		tq := bleve.NewTermQuery(opts.Type)
		tq.SetField("type")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	b.mu.RLock()
	res, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	slices.SortStableFunc(out, func(a, b *KeywordResult) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// buildFuzzyQuery ORs one fuzzy query per term.
func buildFuzzyQuery(query string, fuzziness int) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(id)
}

// Reset closes the index, removes its files and creates an empty one in place.
func (b *BleveIndex) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("close bleve index: %w", err)
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove bleve index: %w", err)
		}
	}
	idx, err := openIndex(b.path)
	if err != nil {
		return err
	}
	b.index = idx
	return nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
