package models

// Result sources reported on SearchResult.Source.
const (
	SourceMain           = "main"
	SourceSuccessPattern = "success_pattern"
	SourceCorrelation    = "correlation"
	SourceKeyword        = "keyword"
)

// SearchResult is a document with its similarity to the query.
type SearchResult struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float64  `json:"similarity"`
	Distance   float64  `json:"distance"`
	Source     string   `json:"source,omitempty"`
	Reason     string   `json:"correlation_reason,omitempty"`
}

// NewSearchResult builds a result from a stored document.
func NewSearchResult(doc *Document, similarity float64, source string) *SearchResult {
	return &SearchResult{
		ID:         doc.ID,
		Content:    doc.Content,
		Metadata:   doc.Metadata.Clone(),
		Similarity: similarity,
		Distance:   1 - similarity,
		Source:     source,
	}
}

// SearchResponse wraps a result list for API responses.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
