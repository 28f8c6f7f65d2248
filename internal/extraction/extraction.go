// Package extraction builds oracle prompts and turns the replies into typed values:
// entity maps for cross-silo indexing, success patterns and recommendations.
//
// Every method returns an extraction error together with an empty value when the oracle
// fails or its reply cannot be parsed. Callers log and continue.
package extraction

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/oracle"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
)

const (
	DefaultEntityMaxLen  = 2000
	DefaultPatternMaxLen = 3000
	temperature          = 0.3
	entityMaxTokens      = 1000
	patternMaxTokens     = 2000
	recommendMaxTokens   = 3000
)

// Extractor owns the prompts sent to an oracle.
type Extractor struct {
	oracle        oracle.Oracle
	entityMaxLen  int
	patternMaxLen int
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithMaxLengths overrides the input truncation limits; zero keeps the default.
func WithMaxLengths(entity, pattern int) Option {
	return func(e *Extractor) {
		if entity > 0 {
			e.entityMaxLen = entity
		}
		if pattern > 0 {
			e.patternMaxLen = pattern
		}
	}
}

// New returns an Extractor. A nil oracle behaves like oracle.Unavailable.
func New(o oracle.Oracle, opts ...Option) *Extractor {
	if o == nil {
		o = oracle.Unavailable{}
	}
	e := &Extractor{
		oracle:        o,
		entityMaxLen:  DefaultEntityMaxLen,
		patternMaxLen: DefaultPatternMaxLen,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) generate(ctx context.Context, purpose, prompt string, maxTokens int) (string, error) {
	started := time.Now()
	out, err := e.oracle.Generate(ctx, prompt, oracle.GenerateOptions{Temperature: temperature, MaxTokens: maxTokens})
	e.metrics.Oracle(purpose, started, err)
	if err != nil {
		return "", kuraerr.Wrapf(err, kuraerr.CodeExtraction, "%s generation failed", purpose)
	}
	return out, nil
}

// decode recovers the JSON object in reply and unmarshals it into v.
func decode(reply string, v any) error {
	raw, ok := RecoverJSON(reply)
	if !ok {
		return kuraerr.New(kuraerr.CodeExtraction, "no JSON object in oracle reply")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return kuraerr.Wrap(err, kuraerr.CodeExtraction, "malformed JSON in oracle reply")
	}
	return nil
}

// RecoverJSON returns the text from the first '{' to the last '}' of s.
func RecoverJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// cleanList trims values, dropping empties and repeats while keeping first-seen order.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// trimList trims values and drops empties. Repeats are kept so that aggregated
// frequencies count every occurrence.
func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
