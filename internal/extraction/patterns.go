package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

const patternPrompt = `Extract success patterns from this winning document:

%s

Silo Type: %s
Metadata: %s

Extract patterns that led to success:
1. What made this successful?
2. Key strategies used
3. Common elements with other successes
4. Unique differentiators

Return JSON:
{
    "success_factors": ["factor1", "factor2"],
    "strategies": ["strategy1", "strategy2"],
    "key_elements": ["element1", "element2"],
    "differentiators": ["diff1", "diff2"],
    "lessons_learned": ["lesson1", "lesson2"]
}

Return ONLY valid JSON.
`

// Patterns synthesizes the success pattern of a winning document. A reply with no
// usable field is an error so no empty pattern is ever stored.
func (e *Extractor) Patterns(ctx context.Context, content string, metadata models.Metadata, siloType string) (models.PatternFields, error) {
	prompt := fmt.Sprintf(patternPrompt, utils.PrefixRunes(content, e.patternMaxLen), siloType, indentJSON(metadata))
	reply, err := e.generate(ctx, "patterns", prompt, patternMaxTokens)
	if err != nil {
		return models.PatternFields{}, err
	}
	var fields models.PatternFields
	if err := decode(reply, &fields); err != nil {
		e.logger.Debug("unparsable pattern reply", zap.Int("length", len(reply)), zap.Error(err))
		return models.PatternFields{}, err
	}
	fields = models.PatternFields{
		SuccessFactors:  trimList(fields.SuccessFactors),
		Strategies:      trimList(fields.Strategies),
		KeyElements:     trimList(fields.KeyElements),
		Differentiators: trimList(fields.Differentiators),
		LessonsLearned:  trimList(fields.LessonsLearned),
	}
	if fields.Empty() {
		return models.PatternFields{}, kuraerr.New(kuraerr.CodeExtraction, "oracle reply has no pattern fields")
	}
	return fields, nil
}
