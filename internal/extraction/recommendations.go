package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kura/internal/models"
)

// summarizedPatterns bounds how many matched patterns are shown to the oracle.
const summarizedPatterns = 5

const recommendPrompt = `Based on successful cases, provide recommendations for this %s opportunity.

USER PROFILE:
%s

FUNDER INFO:
%s

SUCCESS PATTERNS FROM PAST WINS:
%s

Provide actionable recommendations:
1. What strategies worked for similar cases?
2. What should they emphasize?
3. What should they avoid?
4. Key success factors to highlight
5. Common mistakes to avoid

Return JSON:
{
    "strategic_recommendations": [
        {
            "recommendation": "...",
            "priority": "high/medium/low",
            "reason": "...",
            "action": "..."
        }
    ],
    "key_success_factors": ["factor1", "factor2"],
    "common_mistakes_to_avoid": ["mistake1", "mistake2"],
    "differentiators_to_highlight": ["diff1", "diff2"]
}

Return ONLY valid JSON.
`

// Recommendations synthesizes advice from the top matched patterns. On failure the
// returned value has empty, non-nil lists.
func (e *Extractor) Recommendations(ctx context.Context, opportunityType string, profile, funder map[string]any, patterns []models.PatternMatch) (models.Recommendations, error) {
	var summary strings.Builder
	for i, p := range patterns {
		if i == summarizedPatterns {
			break
		}
		if i > 0 {
			summary.WriteByte('\n')
		}
		fmt.Fprintf(&summary, "Pattern %d: %s", i+1, indentJSON(p.Patterns))
	}
	if profile == nil {
		profile = map[string]any{}
	}
	if funder == nil {
		funder = map[string]any{}
	}
	prompt := fmt.Sprintf(recommendPrompt, opportunityType, indentJSON(profile), indentJSON(funder), summary.String())

	empty := models.EmptyRecommendations()
	reply, err := e.generate(ctx, "recommendations", prompt, recommendMaxTokens)
	if err != nil {
		return empty, err
	}
	var recs models.Recommendations
	if err := decode(reply, &recs); err != nil {
		return empty, err
	}
	if recs.StrategicRecommendations == nil {
		recs.StrategicRecommendations = []models.StrategicRecommendation{}
	}
	recs.KeySuccessFactors = cleanList(recs.KeySuccessFactors)
	recs.CommonMistakesToAvoid = cleanList(recs.CommonMistakesToAvoid)
	recs.DifferentiatorsToHighlight = cleanList(recs.DifferentiatorsToHighlight)
	return recs, nil
}
