package search

import (
	"sort"

	"github.com/hyperjump/kura/internal/models"
)

// Merge concatenates the candidate lists, keeps the first occurrence of every id, orders
// by descending similarity and returns at most k results. Equal similarities keep their
// merged order.
func Merge(k int, lists ...[]*models.SearchResult) []*models.SearchResult {
	seen := make(map[string]bool)
	merged := make([]*models.SearchResult, 0)
	for _, list := range lists {
		for _, r := range list {
			if r == nil || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// Confidence scores a recommendation from the relevance of the patterns behind it:
// 0.7 * mean relevance + 0.3 * min(n/10, 1), or 0.5 when there are none.
func Confidence(matches []models.PatternMatch) float64 {
	if len(matches) == 0 {
		return 0.5
	}
	var sum float64
	for _, m := range matches {
		sum += m.Relevance
	}
	mean := sum / float64(len(matches))
	coverage := float64(len(matches)) / 10
	if coverage > 1 {
		coverage = 1
	}
	return 0.7*mean + 0.3*coverage
}
