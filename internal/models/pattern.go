package models

import "time"

// PatternFields is the structured summary synthesized for a success case.
type PatternFields struct {
	SuccessFactors  []string `json:"success_factors"`
	Strategies      []string `json:"strategies"`
	KeyElements     []string `json:"key_elements"`
	Differentiators []string `json:"differentiators"`
	LessonsLearned  []string `json:"lessons_learned"`
}

// Empty reports whether no field holds any value.
func (p PatternFields) Empty() bool {
	return len(p.SuccessFactors) == 0 && len(p.Strategies) == 0 && len(p.KeyElements) == 0 &&
		len(p.Differentiators) == 0 && len(p.LessonsLearned) == 0
}

// SuccessPattern records why a flagged document succeeded. Patterns are never updated.
type SuccessPattern struct {
	ID               string        `json:"id"`
	SiloType         string        `json:"silo_type"`
	SourceDocumentID string        `json:"source_document_id"`
	ExtractedAt      time.Time     `json:"extracted_at"`
	Fields           PatternFields `json:"patterns"`
	Metadata         Metadata      `json:"metadata,omitempty"`
}

// FrequencyEntry is one row of an aggregated frequency table.
type FrequencyEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// AggregatedStatistics is the frequency summary across every stored pattern.
type AggregatedStatistics struct {
	CommonElements    []FrequencyEntry `json:"common_elements"`
	WinningStrategies []FrequencyEntry `json:"winning_strategies"`
	TotalPatterns     int              `json:"total_patterns"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PatternMatch is a stored pattern returned by similarity search.
type PatternMatch struct {
	ID        string        `json:"id"`
	Patterns  PatternFields `json:"patterns"`
	Metadata  Metadata      `json:"metadata"`
	Relevance float64       `json:"relevance"`
}
