package models

import "fmt"

// Default and maximum result counts for search requests.
const (
	DefaultSearchK = 10
	MaxSearchK     = 100
)

// SearchRequest is a similarity search over one collection.
type SearchRequest struct {
	Query    string   `json:"query"`
	K        int      `json:"k,omitempty"`
	Type     string   `json:"type,omitempty"`
	Filter   Metadata `json:"filter,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
}

// Validate normalizes K and checks MinScore. An empty query is valid and yields no results.
func (q *SearchRequest) Validate() error {
	if q.K < 0 {
		return fmt.Errorf("k must not be negative")
	}
	if q.K == 0 {
		q.K = DefaultSearchK
	}
	if q.K > MaxSearchK {
		q.K = MaxSearchK
	}
	if q.MinScore != nil && (*q.MinScore < -1 || *q.MinScore > 1) {
		return fmt.Errorf("min_score must be within [-1, 1]")
	}
	if q.Filter != nil {
		f, err := NormalizeMetadata(q.Filter)
		if err != nil {
			return err
		}
		q.Filter = f
	}
	return nil
}

// CrossSiloRequest is the input of a cross-silo search.
type CrossSiloRequest struct {
	Query     string   `json:"query"`
	SiloTypes []string `json:"silo_types,omitempty"`
	K         int      `json:"k,omitempty"`
}

// Validate normalizes K.
func (q *CrossSiloRequest) Validate() error {
	if q.K < 0 {
		return fmt.Errorf("k must not be negative")
	}
	if q.K == 0 {
		q.K = DefaultSearchK
	}
	if q.K > MaxSearchK {
		q.K = MaxSearchK
	}
	return nil
}

// RecommendRequest asks for strategy recommendations for an opportunity.
type RecommendRequest struct {
	OpportunityType string         `json:"opportunity_type"`
	UserProfile     map[string]any `json:"user_profile"`
	FunderInfo      map[string]any `json:"funder_info,omitempty"`
}

// StrategicRecommendation is one synthesized recommendation.
type StrategicRecommendation struct {
	Recommendation string `json:"recommendation"`
	Priority       string `json:"priority"`
	Reason         string `json:"reason"`
	Action         string `json:"action"`
}

// Recommendations is the synthesized advice; every list is empty on oracle failure.
type Recommendations struct {
	StrategicRecommendations   []StrategicRecommendation `json:"strategic_recommendations"`
	KeySuccessFactors          []string                  `json:"key_success_factors"`
	CommonMistakesToAvoid      []string                  `json:"common_mistakes_to_avoid"`
	DifferentiatorsToHighlight []string                  `json:"differentiators_to_highlight"`
}

// EmptyRecommendations returns a value with non-nil empty lists.
func EmptyRecommendations() Recommendations {
	return Recommendations{
		StrategicRecommendations:   []StrategicRecommendation{},
		KeySuccessFactors:          []string{},
		CommonMistakesToAvoid:      []string{},
		DifferentiatorsToHighlight: []string{},
	}
}

// RecommendationResult is returned by Recommend.
type RecommendationResult struct {
	Recommendations Recommendations `json:"recommendations"`
	PatternsUsed    int             `json:"success_patterns_used"`
	Confidence      float64         `json:"confidence"`
}

// OpportunityAnalysis combines cross-silo insight counts with recommendations.
type OpportunityAnalysis struct {
	CrossSiloInsights  int             `json:"cross_silo_insights"`
	PatternsAnalyzed   int             `json:"success_patterns_analyzed"`
	Recommendations    Recommendations `json:"recommendations"`
	SuccessProbability float64         `json:"success_probability"`
}
