package usecase

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/lexrag/query-engine/internal/core/domain"
	"github.com/lexrag/query-engine/internal/core/ports"
)

// CategoryPattern is one row of the classification table. Adding an intent
// category is a data change, not a control-flow change.
type CategoryPattern struct {
	Category domain.QueryType
	Pattern  *regexp.Regexp
	Weight   float64
}

// CompilePattern builds a table row from a raw expression, as loaded from the
// optional pattern-table file.
func CompilePattern(category, expression string, weight float64) (CategoryPattern, error) {
	re, err := regexp.Compile(expression)
	if err != nil {
		return CategoryPattern{}, err
	}
	if weight <= 0 {
		weight = 1
	}
	return CategoryPattern{Category: domain.QueryType(category), Pattern: re, Weight: weight}, nil
}

// DefaultPatterns is the built-in table for Spanish legal queries.
func DefaultPatterns() []CategoryPattern {
	rows := []struct {
		category domain.QueryType
		expr     string
		weight   float64
	}{
		{domain.QueryTypeMetadata, `\bcu[áa]nt[oa]s\s+(art[íi]culos|cap[íi]tulos|secciones|t[íi]tulos)\b`, 1.5},
		// \b is ASCII-only in RE2; boundaries next to accented letters need an
		// explicit class.
		{domain.QueryTypeMetadata, `\bestructura\b|(?:^|[^a-záéíóúñü])[íi]ndice\b|\btabla\s+de\s+contenido\b`, 1},
		{domain.QueryTypeMetadata, `\btotal\s+de\s+(art[íi]culos|cap[íi]tulos|secciones)\b`, 1},
		{domain.QueryTypeMetadata, `\bn[úu]mero\s+de\s+(art[íi]culos|cap[íi]tulos|secciones)\b`, 1},

		{domain.QueryTypeNavigation, `\bart[íi]culo\s+\d+\b`, 1.5},
		{domain.QueryTypeNavigation, `^\s*art(?:[íi]culo|\.)?\s*\d+\s*$`, 2},
		{domain.QueryTypeNavigation, `\bcap[íi]tulo\s+([ivxlcdm]+|\d+)\b`, 1},
		{domain.QueryTypeNavigation, `\bsecci[óo]n\s+([ivxlcdm]+|\d+)\b`, 1},
		{domain.QueryTypeNavigation, `\bd[óo]nde\s+(est[áa](?:[^a-záéíóúñü]|$)|aparece\b|se\s+encuentra\b)`, 1},

		{domain.QueryTypeContent, `\bqu[ée]\s+(dice|establece|dispone|regula|significa)\b`, 1},
		{domain.QueryTypeContent, `\bc[óo]mo\b`, 1},
		{domain.QueryTypeContent, `\bpor\s+qu[ée](?:[^a-záéíóúñü]|$)`, 1},
		{domain.QueryTypeContent, `\b(requisitos|derechos|obligaciones|procedimiento|sanci[óo]n(es)?|plazos?)\b`, 1},
		{domain.QueryTypeContent, `\b(expl[íi]ca(me)?|puedo|se\s+puede)\b`, 1},

		{domain.QueryTypeComparison, `\bdiferencias?\b`, 1.5},
		{domain.QueryTypeComparison, `\bcompara(r|ci[óo]n)?\b`, 1.5},
		{domain.QueryTypeComparison, `\b(versus|vs\.?)\b`, 1},
		{domain.QueryTypeComparison, `\bsimilitud(es)?\b`, 1},
		{domain.QueryTypeComparison, `\ben\s+qu[ée]\s+se\s+distingue[n]?\b`, 1},

		{domain.QueryTypeSummary, `\bres[úu]me(n|me|lo)?\b`, 1.5},
		{domain.QueryTypeSummary, `\bresumir\b`, 1.5},
		{domain.QueryTypeSummary, `\bde\s+qu[ée]\s+trata\b`, 1},
		{domain.QueryTypeSummary, `\b(s[íi]ntesis|puntos\s+principales|visi[óo]n\s+general)\b`, 1},
	}

	out := make([]CategoryPattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, CategoryPattern{
			Category: row.category,
			Pattern:  regexp.MustCompile(row.expr),
			Weight:   row.weight,
		})
	}
	return out
}

// Classifier assigns a query to an intent category by pattern voting, with an
// optional best-effort completion-service intent hint.
type Classifier struct {
	patterns    []CategoryPattern
	completion  ports.CompletionService
	hintTimeout time.Duration
}

func NewClassifier(patterns []CategoryPattern, completion ports.CompletionService, hintTimeout time.Duration) *Classifier {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	if hintTimeout <= 0 {
		hintTimeout = 2 * time.Second
	}
	return &Classifier{
		patterns:    patterns,
		completion:  completion,
		hintTimeout: hintTimeout,
	}
}

// normalizeQuery lower-cases and collapses whitespace. Idempotent.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (c *Classifier) Classify(ctx context.Context, query string) domain.QueryClassification {
	normalized := normalizeQuery(query)

	scores := make(map[domain.QueryType]float64, 6)
	counts := make(map[domain.QueryType]int, 6)
	for _, row := range c.patterns {
		if row.Pattern.MatchString(normalized) {
			scores[row.Category] += row.Weight
			counts[row.Category]++
		}
	}

	winner := domain.QueryTypeUnknown
	best := 0.0
	tied := false
	for category, score := range scores {
		switch {
		case score > best:
			winner, best, tied = category, score, false
		case score == best:
			tied = true
		}
	}
	// A tie between categories is ambiguity, not a winner.
	if tied || best == 0 {
		winner = domain.QueryTypeUnknown
	}

	confidence := 0.0
	if winner != domain.QueryTypeUnknown {
		confidence = math.Min(0.95, 0.6+0.15*float64(counts[winner]))
	}

	entities := extractEntities(normalized)

	cls := domain.QueryClassification{
		Type:            winner,
		Confidence:      confidence,
		Entities:        entities,
		NormalizedQuery: normalized,
	}
	cls.RequiredStrategies = requiredStrategies(cls)
	cls.Intent = c.intentHint(ctx, normalized)
	return cls
}

// intentHint asks the completion service for a one-word label. Advisory only:
// failures are swallowed and must never block classification beyond the
// hint's own timeout.
func (c *Classifier) intentHint(ctx context.Context, normalized string) domain.IntentLabel {
	if c.completion == nil {
		return ""
	}
	hintCtx, cancel := context.WithTimeout(ctx, c.hintTimeout)
	defer cancel()

	raw, err := c.completion.Complete(hintCtx, intentHintSystemPrompt, normalized, 0, 8)
	if err != nil {
		slog.Debug("intent_hint_skipped", "error", err)
		return ""
	}
	return parseIntentLabel(raw)
}

const intentHintSystemPrompt = `Classify the user's query intent.
Reply with exactly one word from: lookup, explain, compare, summarize, navigate, count.`

// parseIntentLabel maps raw completion output into the closed label set.
// Anything else becomes "unrecognized" — the label is never trusted for branching.
func parseIntentLabel(raw string) domain.IntentLabel {
	word := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(word, " \t\n.,;:"); i >= 0 {
		word = word[:i]
	}
	switch domain.IntentLabel(word) {
	case domain.IntentLookup, domain.IntentExplain, domain.IntentCompare,
		domain.IntentSummarize, domain.IntentNavigate, domain.IntentCount:
		return domain.IntentLabel(word)
	default:
		return domain.IntentUnrecognized
	}
}

// requiredStrategies maps the classified type to the strategies its handler
// must invoke.
func requiredStrategies(cls domain.QueryClassification) []string {
	switch cls.Type {
	case domain.QueryTypeMetadata:
		return []string{domain.StrategyMetadataSearch, domain.StrategyDocumentSummary, domain.StrategyStructureSearch}
	case domain.QueryTypeNavigation:
		strategies := []string{domain.StrategyStructureSearch}
		if len(cls.EntitiesOfType(domain.EntityArticle)) > 0 {
			strategies = append([]string{domain.StrategyDirectArticleLookup}, strategies...)
		}
		return strategies
	case domain.QueryTypeContent:
		return []string{domain.StrategySemanticSearch, domain.StrategyKeywordSearch}
	case domain.QueryTypeComparison:
		return []string{domain.StrategySemanticSearch, domain.StrategyKeywordSearch}
	case domain.QueryTypeSummary:
		return []string{domain.StrategyDocumentSummary, domain.StrategySummarySearch}
	default:
		return []string{domain.StrategySemanticSearch, domain.StrategyMetadataSearch, domain.StrategySummarySearch}
	}
}
