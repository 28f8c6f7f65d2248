package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extraction"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/patterns"
	"github.com/hyperjump/kura/internal/repository"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/store"
	"github.com/hyperjump/kura/internal/vector"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

// funderEntities tags any text mentioning "Acme" with the funder Acme.
type funderEntities struct {
	err error
}

func (f funderEntities) Entities(_ context.Context, text string) (extraction.Entities, error) {
	if f.err != nil {
		return extraction.Entities{}, f.err
	}
	if strings.Contains(text, "Acme") {
		return extraction.Entities{"funders": {"Acme"}}, nil
	}
	return extraction.Entities{}, nil
}

type stubAdvisor struct {
	got  []models.PatternMatch
	recs models.Recommendations
	err  error
}

func (s *stubAdvisor) Recommendations(_ context.Context, _ string, _, _ map[string]any, matches []models.PatternMatch) (models.Recommendations, error) {
	s.got = matches
	if s.err != nil {
		return models.EmptyRecommendations(), s.err
	}
	return s.recs, nil
}

type fixture struct {
	engine   *Engine
	repo     *repository.Repository
	patterns *patterns.Store
	index    *crosssilo.Index
	advisor  *stubAdvisor
}

func newFixture(t *testing.T, entities crosssilo.EntityExtractor) *fixture {
	t.Helper()
	st, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "kura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f, err := vector.NewFactory(vector.Options{Type: "memory", Dimensions: 64})
	require.NoError(t, err)
	emb := embedding.NewHashEmbedder(64)
	mainIdx, err := f.Open(context.Background(), "knowledge")
	require.NoError(t, err)
	patIdx, err := f.Open(context.Background(), "success_patterns")
	require.NoError(t, err)

	repo := repository.New(store.New("knowledge", st, mainIdx, emb))
	ps := patterns.New(store.New("success_patterns", st, patIdx, emb), nil)
	index := crosssilo.New(funderEntities{})
	advisor := &stubAdvisor{recs: models.Recommendations{
		StrategicRecommendations: []models.StrategicRecommendation{{Recommendation: "lead with outcomes", Priority: "high"}},
		KeySuccessFactors:        []string{"evidence"},
	}}
	return &fixture{
		engine:   NewEngine(repo, ps, index, entities, advisor),
		repo:     repo,
		patterns: ps,
		index:    index,
		advisor:  advisor,
	}
}

func (fx *fixture) add(t *testing.T, id, content, silo string) {
	t.Helper()
	ctx := context.Background()
	meta := models.Metadata{models.KeySiloType: silo}
	_, err := fx.repo.Add(ctx, content, meta, id)
	require.NoError(t, err)
	fx.index.IndexDocument(ctx, id, content, meta, silo)
}

func (fx *fixture) addPattern(t *testing.T, silo string, elements ...string) {
	t.Helper()
	require.NoError(t, fx.patterns.Insert(context.Background(), &models.SuccessPattern{
		SiloType: silo,
		Fields:   models.PatternFields{KeyElements: elements, Strategies: []string{"partner early"}},
	}))
}

func TestSearchCrossSiloCombinesSources(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	fx.add(t, "g1", "rural clinic expansion grant", "grants")
	fx.add(t, "c1", "Acme procurement contract for software", "contracts")
	fx.addPattern(t, "grants", "rural clinic expansion")

	resp, err := fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "Acme rural clinic expansion", K: 10})
	require.NoError(t, err)

	bySource := map[string][]string{}
	for _, r := range resp.Results {
		bySource[r.Source] = append(bySource[r.Source], r.ID)
	}
	assert.Contains(t, bySource[models.SourceMain], "g1")
	assert.Len(t, bySource[models.SourceSuccessPattern], 1)
	assert.Equal(t, resp.Total, len(resp.Results))

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Similarity, resp.Results[i].Similarity)
	}
	seen := map[string]bool{}
	for _, r := range resp.Results {
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		seen[r.ID] = true
	}
}

func TestSearchCrossSiloCorrelation(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	fx.add(t, "g1", "rural clinic expansion grant", "grants")
	// shares only the entity with the query, and is left out of the main results by k=1
	fx.add(t, "c9", "Acme procurement contract", "contracts")

	resp, err := fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "Acme rural clinic expansion grant", K: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "Acme rural clinic expansion grant", K: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
}

func TestCorrelateAssignsScoreAndReason(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	fx.add(t, "g1", "rural clinic grant", "grants")
	fx.add(t, "c9", "Acme procurement contract", "contracts")

	initial := []*models.SearchResult{{ID: "g1", Similarity: 0.9}}
	out, err := fx.engine.correlate(context.Background(), "Acme", initial)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c9", out[0].ID)
	assert.Equal(t, DefaultCorrelationScore, out[0].Similarity)
	assert.Equal(t, "related via funders: Acme", out[0].Reason)
	assert.Equal(t, models.SourceCorrelation, out[0].Source)

	// already present documents are not correlated again
	initial = append(initial, &models.SearchResult{ID: "c9"})
	out, err = fx.engine.correlate(context.Background(), "Acme", initial)
	require.NoError(t, err)
	assert.Empty(t, out)

	// nothing is correlated without initial results
	out, err = fx.engine.correlate(context.Background(), "Acme", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorrelateSkipsDeletedDocuments(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	fx.add(t, "c9", "Acme procurement contract", "contracts")
	_, err := fx.repo.Delete(context.Background(), "c9")
	require.NoError(t, err)

	out, err := fx.engine.correlate(context.Background(), "Acme", []*models.SearchResult{{ID: "x"}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorrelateExtractionFailureDegrades(t *testing.T) {
	fx := newFixture(t, funderEntities{err: kuraerr.New(kuraerr.CodeExtraction, "timeout")})
	fx.add(t, "g1", "rural clinic grant", "grants")
	fx.add(t, "c9", "Acme procurement contract", "contracts")

	resp, err := fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "Acme rural clinic", K: 10})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, models.SourceCorrelation, r.Source)
	}
}

func TestSearchCrossSiloSiloFilterAppliesToPatterns(t *testing.T) {
	fx := newFixture(t, nil)
	fx.addPattern(t, "grants", "community outreach")
	fx.addPattern(t, "contracts", "community outreach")

	resp, err := fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{
		Query: "community outreach", SiloTypes: []string{"contracts"}, K: 10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "contracts", resp.Results[0].Metadata[models.KeySiloType])
}

func TestSearchCrossSiloEmptyAndInvalid(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	resp, err := fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "  "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = fx.engine.SearchCrossSilo(context.Background(), models.CrossSiloRequest{Query: "x", K: -1})
	assert.True(t, kuraerr.IsValidation(err))
}

func TestRecommendQuery(t *testing.T) {
	q := RecommendQuery("grants", map[string]any{
		"organization_type": "nonprofit",
		"focus_areas":       []any{"health", "education"},
	})
	assert.Equal(t, "grants nonprofit health education", q)
	assert.Equal(t, "contracts", RecommendQuery("contracts", nil))
	assert.Equal(t, "grants climate", RecommendQuery("grants", map[string]any{"focus_areas": "climate"}))
}

func TestRecommendUsesOpportunityPatterns(t *testing.T) {
	fx := newFixture(t, nil)
	fx.addPattern(t, "grants", "nonprofit health outcomes")
	fx.addPattern(t, "grants", "nonprofit education reach")
	fx.addPattern(t, "contracts", "nonprofit health outcomes")

	res, err := fx.engine.Recommend(context.Background(), models.RecommendRequest{
		OpportunityType: "grants",
		UserProfile:     map[string]any{"organization_type": "nonprofit", "focus_areas": []string{"health"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PatternsUsed)
	require.Len(t, fx.advisor.got, 2)
	for _, m := range fx.advisor.got {
		assert.Equal(t, "grants", m.Metadata[models.KeySiloType])
	}
	assert.InDelta(t, Confidence(fx.advisor.got), res.Confidence, 1e-9)
	assert.Equal(t, "lead with outcomes", res.Recommendations.StrategicRecommendations[0].Recommendation)
}

func TestRecommendWithoutPatterns(t *testing.T) {
	fx := newFixture(t, nil)
	fx.advisor.err = errors.New("oracle down")

	res, err := fx.engine.Recommend(context.Background(), models.RecommendRequest{OpportunityType: "grants"})
	require.NoError(t, err)
	assert.Zero(t, res.PatternsUsed)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Equal(t, models.EmptyRecommendations(), res.Recommendations)
}

func TestAnalyzeOpportunity(t *testing.T) {
	fx := newFixture(t, funderEntities{})
	fx.add(t, "g1", "grants from Acme for rural clinics", "grants")
	fx.addPattern(t, "grants", "rural clinics")

	res, err := fx.engine.AnalyzeOpportunity(context.Background(), models.RecommendRequest{
		OpportunityType: "grants",
		UserProfile:     map[string]any{"organization_type": "clinic"},
		FunderInfo:      map[string]any{"name": "Acme"},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.CrossSiloInsights, 1)
	assert.Equal(t, 1, res.PatternsAnalyzed)
	assert.InDelta(t, Confidence(fx.advisor.got)*100, res.SuccessProbability, 1e-9)
}
