package extract

import (
	"strings"

	"ai-brand-monitor/internal/domain/ports/adapter"
)

var _ adapter.BrandExtractor = (*KeywordExtractor)(nil)

// KeywordExtractor is the default case-insensitive substring scan. The
// production extraction heuristics live in a separate service; this keeps
// recorded results meaningful without depending on it.
type KeywordExtractor struct{}

func NewKeywordExtractor() *KeywordExtractor { return &KeywordExtractor{} }

func (e *KeywordExtractor) Extract(answer, brand string, competitors []string) adapter.Mentions {
	lower := strings.ToLower(answer)

	var m adapter.Mentions
	if brand != "" && strings.Contains(lower, strings.ToLower(brand)) {
		m.BrandMentioned = true
	}
	for _, c := range competitors {
		if c == "" {
			continue
		}
		m.CompetitorMentions += strings.Count(lower, strings.ToLower(c))
	}
	return m
}
