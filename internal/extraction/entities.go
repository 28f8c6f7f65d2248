package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/pkg/utils"
)

// Entity categories the cross-silo index understands.
var Categories = []string{
	"organizations", "funders", "projects", "technologies", "locations", "sectors", "keywords",
}

// Entities maps a category to the values found for it.
type Entities map[string][]string

// Pairs returns every (category, value) pair in category order.
func (e Entities) Pairs() [][2]string {
	var pairs [][2]string
	for _, cat := range Categories {
		for _, v := range e[cat] {
			pairs = append(pairs, [2]string{cat, v})
		}
	}
	return pairs
}

// Empty reports whether no category holds a value.
func (e Entities) Empty() bool {
	for _, v := range e {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

const entityPrompt = `Extract key entities from this document for cross-silo indexing:

%s

Extract and return JSON:
{
    "organizations": ["org1", "org2"],
    "funders": ["funder1", "funder2"],
    "projects": ["project1", "project2"],
    "technologies": ["tech1", "tech2"],
    "locations": ["location1", "location2"],
    "sectors": ["sector1", "sector2"],
    "keywords": ["keyword1", "keyword2"]
}

Return ONLY valid JSON.
`

// Entities asks the oracle for named entities in the first entityMaxLen characters of text.
// Unknown categories, non-string values and empty strings are dropped. The returned map is
// never nil.
func (e *Extractor) Entities(ctx context.Context, text string) (Entities, error) {
	out := Entities{}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	reply, err := e.generate(ctx, "entities", fmt.Sprintf(entityPrompt, utils.PrefixRunes(text, e.entityMaxLen)), entityMaxTokens)
	if err != nil {
		return out, err
	}
	var raw map[string]any
	if err := decode(reply, &raw); err != nil {
		e.logger.Debug("unparsable entity reply", zap.Int("length", len(reply)), zap.Error(err))
		return out, err
	}
	for _, cat := range Categories {
		list, ok := raw[cat].([]any)
		if !ok {
			continue
		}
		values := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		if values = cleanList(values); len(values) > 0 {
			out[cat] = values
		}
	}
	return out, nil
}
