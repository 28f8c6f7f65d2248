// Package cli renders command output for kura.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kura/internal/app"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	rule           = "─────────────────────────────────────────────────────────"
	previewLength  = 200
	previewPattern = 5
)

// ParseFormat accepts "text" or "json"; anything else is an error.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	fmt.Fprintln(w, rule)
	source := result.Source
	if source == "" {
		source = models.SourceMain
	}
	fmt.Fprintf(w, "[%s] Rank: %d | Similarity: %.4f\n", source, rank, result.Similarity)
	fmt.Fprintf(w, "ID: %s\n", result.ID)
	if silo := result.Metadata.String(models.KeySiloType); silo != "" {
		fmt.Fprintf(w, "Silo: %s\n", silo)
	}
	if result.Reason != "" {
		fmt.Fprintf(w, "Why: %s\n", result.Reason)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.Content, previewLength))
}

// WriteDocument prints one stored document with its metadata in key order.
func WriteDocument(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, doc)
	}
	fmt.Fprintf(w, "ID: %s\n", doc.ID)
	fmt.Fprintf(w, "Created: %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	for _, k := range doc.Metadata.Keys() {
		fmt.Fprintf(w, "  %s: %v\n", k, doc.Metadata[k])
	}
	fmt.Fprintf(w, "\n%s\n", doc.Content)
	return nil
}

// WriteCollectionStats prints document counts per type, largest first.
func WriteCollectionStats(w io.Writer, stats *models.CollectionStats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	fmt.Fprintf(w, "Collection: %s\n", stats.Collection)
	fmt.Fprintf(w, "Documents:  %d\n", stats.TotalDocuments)
	types := make([]string, 0, len(stats.DocumentTypes))
	for t := range stats.DocumentTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		ci, cj := stats.DocumentTypes[types[i]], stats.DocumentTypes[types[j]]
		if ci != cj {
			return ci > cj
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(w, "  %-24s %d\n", t, stats.DocumentTypes[t])
	}
	return nil
}

// WriteStatus prints the backends and counters of a running store.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:          %d\n", st.Documents)
	fmt.Fprintf(w, "Success patterns:   %d\n", st.Patterns)
	fmt.Fprintf(w, "Cross-silo refs:    %d (%d values, %d entity types)\n",
		st.CrossSilo.References, st.CrossSilo.Values, st.CrossSilo.EntityTypes)
	fmt.Fprintf(w, "Vector backend:     %s\n", st.VectorBackend)
	fmt.Fprintf(w, "Embedding:          %s (%d dims)\n", st.EmbeddingProvider, st.Dimensions)
	fmt.Fprintf(w, "Oracle:             %s\n", st.OracleProvider)
	fmt.Fprintf(w, "Database:           %s\n", st.DatabasePath)
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:         %s\n", FormatBytes(st.DiskUsageBytes))
	}
	for _, d := range st.WatchDirectories {
		fmt.Fprintf(w, "Watching:           %s\n", d)
	}
	return nil
}

// WriteRecommendations prints synthesized advice and the confidence behind it.
func WriteRecommendations(w io.Writer, res *models.RecommendationResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "Confidence: %.0f%% from %d success patterns\n", res.Confidence*100, res.PatternsUsed)
	recs := res.Recommendations
	if len(recs.StrategicRecommendations) > 0 {
		fmt.Fprintln(w, "\nStrategic recommendations:")
		for i, r := range recs.StrategicRecommendations {
			priority := r.Priority
			if priority == "" {
				priority = "medium"
			}
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, priority, r.Recommendation)
			if r.Action != "" {
				fmt.Fprintf(w, "     Action: %s\n", r.Action)
			}
		}
	}
	writeList(w, "Key success factors", recs.KeySuccessFactors)
	writeList(w, "Common mistakes to avoid", recs.CommonMistakesToAvoid)
	writeList(w, "Differentiators to highlight", recs.DifferentiatorsToHighlight)
	return nil
}

// WritePatternStatistics prints the most frequent elements and strategies.
func WritePatternStatistics(w io.Writer, stats models.AggregatedStatistics, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	fmt.Fprintf(w, "Success patterns: %d\n", stats.TotalPatterns)
	writeFrequencies(w, "Common elements", stats.CommonElements)
	writeFrequencies(w, "Winning strategies", stats.WinningStrategies)
	return nil
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func writeFrequencies(w io.Writer, title string, entries []models.FrequencyEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for i, e := range entries {
		if i == previewPattern {
			fmt.Fprintf(w, "  ... and %d more\n", len(entries)-previewPattern)
			break
		}
		fmt.Fprintf(w, "  %3d  %s\n", e.Count, e.Value)
	}
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
