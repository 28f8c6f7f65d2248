package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RebuildReport summarizes a startup rebuild.
type RebuildReport struct {
	Vectors        int           `json:"vectors_reembedded"`
	PatternVectors int           `json:"pattern_vectors_reembedded"`
	KeywordDocs    int           `json:"keyword_documents"`
	CrossSiloDocs  int           `json:"cross_silo_documents"`
	CrossSiloRefs  int           `json:"cross_silo_references"`
	Patterns       int           `json:"patterns"`
	Took           time.Duration `json:"took"`
}

// Rebuild brings derived state back in line with storage: vector backends, the keyword
// index and pattern statistics always, and the cross-silo index when crossSilo is true.
func (idx *Indexer) Rebuild(ctx context.Context, crossSilo bool) (*RebuildReport, error) {
	started := time.Now()
	report := &RebuildReport{}
	var err error

	if report.Vectors, err = idx.repo.Store().RebuildVectors(ctx); err != nil {
		return nil, err
	}
	if report.KeywordDocs, err = idx.repo.SyncKeywordIndex(ctx); err != nil {
		return nil, err
	}
	if idx.patterns != nil {
		if report.PatternVectors, err = idx.patterns.RebuildVectors(ctx); err != nil {
			return nil, err
		}
		if err := idx.patterns.Load(ctx); err != nil {
			return nil, err
		}
		report.Patterns = idx.patterns.Statistics().TotalPatterns
	}
	if crossSilo {
		if report.CrossSiloDocs, err = idx.crossSilo.Rebuild(ctx, idx.repo.Store()); err != nil {
			return nil, err
		}
	}
	report.CrossSiloRefs = idx.crossSilo.Stats().References
	report.Took = time.Since(started)
	idx.logger.Info("derived state rebuilt",
		zap.Int("vectors", report.Vectors),
		zap.Int("keyword_documents", report.KeywordDocs),
		zap.Int("cross_silo_documents", report.CrossSiloDocs),
		zap.Int("patterns", report.Patterns),
		zap.Duration("took", report.Took))
	return report, nil
}
