// Package search answers cross-silo queries and synthesizes recommendations from
// stored success patterns.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/patterns"
	"github.com/hyperjump/kura/internal/repository"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

var tracer = otel.Tracer("kura/search")

// Defaults for cross-silo search and recommendation.
const (
	DefaultCorrelationScore = 0.7
	DefaultPatternK         = 5
	RecommendPatternK       = 10
	AnalysisK               = 20
)

// Advisor synthesizes recommendations from matched patterns. On failure it returns
// empty recommendations together with the error.
type Advisor interface {
	Recommendations(ctx context.Context, opportunityType string, profile, funder map[string]any, matches []models.PatternMatch) (models.Recommendations, error)
}

// Engine runs cross-silo search over the main collection, the pattern store and the
// entity index.
type Engine struct {
	repo             *repository.Repository
	patterns         *patterns.Store
	crossSilo        *crosssilo.Index
	entities         crosssilo.EntityExtractor
	advisor          Advisor
	logger           *zap.Logger
	metrics          *metrics.Metrics
	correlationScore float64
	patternK         int
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCorrelationScore sets the similarity assigned to entity-correlated documents.
func WithCorrelationScore(score float64) Option {
	return func(e *Engine) {
		if score > 0 {
			e.correlationScore = score
		}
	}
}

// WithPatternK sets how many success patterns a cross-silo search pulls in.
func WithPatternK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.patternK = k
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	repo *repository.Repository,
	patternStore *patterns.Store,
	index *crosssilo.Index,
	entities crosssilo.EntityExtractor,
	advisor Advisor,
	opts ...Option,
) *Engine {
	e := &Engine{
		repo:             repo,
		patterns:         patternStore,
		crossSilo:        index,
		entities:         entities,
		advisor:          advisor,
		logger:           zap.NewNop(),
		correlationScore: DefaultCorrelationScore,
		patternK:         DefaultPatternK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchCrossSilo merges the main search, a pattern search restricted to req.SiloTypes
// and documents correlated through entities found in the query. A failing main search is
// returned; a failing pattern search or entity extraction only narrows the result.
func (e *Engine) SearchCrossSilo(ctx context.Context, req models.CrossSiloRequest) (_ *models.SearchResponse, err error) {
	ctx, span := tracer.Start(ctx, "Engine.SearchCrossSilo")
	defer span.End()
	started := time.Now()
	resp := &models.SearchResponse{Query: req.Query, Results: []*models.SearchResult{}}
	defer func() {
		e.metrics.Search("cross_silo", started, len(resp.Results))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, kuraerr.Wrap(err, kuraerr.CodeValidation, "invalid cross-silo request")
	}
	if strings.TrimSpace(req.Query) == "" {
		return resp, nil
	}
	span.SetAttributes(attribute.Int("k", req.K), attribute.StringSlice("silo_types", req.SiloTypes))

	var main, found []*models.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		main, err = e.repo.Search(gctx, models.SearchRequest{Query: req.Query, K: req.K})
		return err
	})
	if e.patterns != nil {
		g.Go(func() error {
			hits, err := e.patterns.Search(gctx, req.Query, e.patternK, req.SiloTypes)
			if err != nil {
				e.logger.Warn("success pattern search failed", zap.Error(err))
				return nil
			}
			found = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	initial := append(append([]*models.SearchResult{}, main...), found...)
	correlated, err := e.correlate(ctx, req.Query, initial)
	if err != nil {
		return nil, err
	}
	resp.Results = Merge(req.K, initial, correlated)
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(started).Milliseconds()
	span.SetAttributes(
		attribute.Int("main", len(main)),
		attribute.Int("patterns", len(found)),
		attribute.Int("correlated", len(correlated)),
	)
	return resp, nil
}

// correlate finds indexed documents sharing an entity with the query. Nothing is
// correlated when the direct searches found nothing.
func (e *Engine) correlate(ctx context.Context, query string, initial []*models.SearchResult) ([]*models.SearchResult, error) {
	if len(initial) == 0 || e.crossSilo == nil || e.entities == nil {
		return nil, nil
	}
	entities, err := e.entities.Entities(ctx, query)
	if err != nil {
		e.logger.Warn("query entity extraction failed", zap.Error(err))
		return nil, nil
	}
	present := make(map[string]bool, len(initial))
	for _, r := range initial {
		present[r.ID] = true
	}
	var out []*models.SearchResult
	for _, pair := range entities.Pairs() {
		for _, ref := range e.crossSilo.Lookup(pair[0], pair[1]) {
			if present[ref.DocumentID] {
				continue
			}
			doc, err := e.repo.Get(ctx, ref.DocumentID)
			if kuraerr.IsNotFound(err) {
				// deleted without pruning
				continue
			}
			if err != nil {
				return nil, err
			}
			present[ref.DocumentID] = true
			r := models.NewSearchResult(doc, e.correlationScore, models.SourceCorrelation)
			r.Reason = fmt.Sprintf("related via %s: %s", pair[0], pair[1])
			out = append(out, r)
		}
	}
	return out, nil
}

// RecommendQuery builds the pattern query for a profile:
// "<opportunity_type> <organization_type> <focus areas...>".
func RecommendQuery(opportunityType string, profile map[string]any) string {
	parts := []string{opportunityType, stringOf(profile["organization_type"])}
	switch areas := profile["focus_areas"].(type) {
	case []string:
		parts = append(parts, areas...)
	case []any:
		for _, a := range areas {
			parts = append(parts, stringOf(a))
		}
	default:
		parts = append(parts, stringOf(areas))
	}
	return utils.CollapseWhitespace(strings.Join(parts, " "))
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Recommend matches up to ten patterns of the opportunity's silo and asks the advisor
// for recommendations. Pattern search and advisor failures degrade to fewer patterns and
// empty recommendations.
func (e *Engine) Recommend(ctx context.Context, req models.RecommendRequest) (*models.RecommendationResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Recommend")
	defer span.End()

	var matches []models.PatternMatch
	if e.patterns != nil {
		var filter models.Metadata
		if req.OpportunityType != "" {
			filter = models.Metadata{models.KeySiloType: req.OpportunityType}
		}
		found, err := e.patterns.Match(ctx, RecommendQuery(req.OpportunityType, req.UserProfile), RecommendPatternK, filter)
		if err != nil {
			e.logger.Warn("success pattern query failed", zap.Error(err))
		} else {
			matches = found
		}
	}

	recs := models.EmptyRecommendations()
	if e.advisor != nil {
		got, err := e.advisor.Recommendations(ctx, req.OpportunityType, req.UserProfile, req.FunderInfo, matches)
		if err != nil {
			e.logger.Warn("recommendation synthesis failed", zap.Error(err))
		} else {
			recs = got
		}
	}

	result := &models.RecommendationResult{
		Recommendations: recs,
		PatternsUsed:    len(matches),
		Confidence:      Confidence(matches),
	}
	span.SetAttributes(attribute.Int("patterns", result.PatternsUsed), attribute.Float64("confidence", result.Confidence))
	return result, nil
}

// AnalyzeOpportunity combines a cross-silo search for the opportunity and funder with
// recommendations. SuccessProbability is the confidence as a percentage.
func (e *Engine) AnalyzeOpportunity(ctx context.Context, req models.RecommendRequest) (*models.OpportunityAnalysis, error) {
	query := utils.CollapseWhitespace(req.OpportunityType + " " + stringOf(req.FunderInfo["name"]))
	insights, err := e.SearchCrossSilo(ctx, models.CrossSiloRequest{Query: query, K: AnalysisK})
	if err != nil {
		return nil, err
	}
	rec, err := e.Recommend(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.OpportunityAnalysis{
		CrossSiloInsights:  len(insights.Results),
		PatternsAnalyzed:   rec.PatternsUsed,
		Recommendations:    rec.Recommendations,
		SuccessProbability: rec.Confidence * 100,
	}, nil
}
