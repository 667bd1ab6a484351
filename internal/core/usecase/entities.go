package usecase

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// entityPattern binds one entity type to a lexical pattern. The first capture
// group, when present, is the value to normalize; otherwise the whole match.
type entityPattern struct {
	entityType domain.EntityType
	re         *regexp.Regexp
	normalize  func(string) string
}

var entityPatterns = []entityPattern{
	{
		entityType: domain.EntityArticle,
		re:         regexp.MustCompile(`\bart(?:[íi]culos?|s?\.)?\s*(?:n[°º.]?\s*)?(\d+)\b`),
		normalize:  digitsOnly,
	},
	{
		entityType: domain.EntityChapter,
		re:         regexp.MustCompile(`\bcap[íi]tulos?\s+([ivxlcdm]+|\d+)\b`),
		normalize:  romanOrDigits,
	},
	{
		entityType: domain.EntitySection,
		re:         regexp.MustCompile(`\bsecci[óo]n(?:es)?\s+([ivxlcdm]+|\d+)\b`),
		normalize:  romanOrDigits,
	},
	{
		// The constitution is referenced without a statute prefix.
		entityType: domain.EntityLaw,
		re:         regexp.MustCompile(`\b(constituci[óo]n(?:\s+(?:de|del)\s+la\s+rep[úu]blica)?)\b`),
		normalize:  strings.TrimSpace,
	},
	{
		entityType: domain.EntityDate,
		re:         regexp.MustCompile(`\b(\d{1,2}\s+de\s+(?:enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)(?:\s+de\s+\d{4})?)\b`),
		normalize:  strings.TrimSpace,
	},
	{
		// Quoted phrases are kept as opaque entities.
		entityType: domain.EntityGeneric,
		re:         regexp.MustCompile(`"([^"]+)"|“([^”]+)”`),
		normalize:  strings.TrimSpace,
	},
}

// extractEntities pulls structured mentions out of a normalized query.
// Pure: no I/O, no error case; absence of entities is an empty result.
func extractEntities(normalizedQuery string) []domain.QueryEntity {
	type seenKey struct {
		t   domain.EntityType
		pos int
	}
	seen := make(map[seenKey]struct{})
	out := make([]domain.QueryEntity, 0, 4)

	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(normalizedQuery, -1) {
			value := normalizedQuery[loc[0]:loc[1]]
			raw := value
			// First non-empty capture group wins.
			for g := 1; 2*g+1 < len(loc); g++ {
				if loc[2*g] >= 0 {
					raw = normalizedQuery[loc[2*g]:loc[2*g+1]]
					break
				}
			}
			key := seenKey{t: p.entityType, pos: loc[0]}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, domain.QueryEntity{
				Type:            p.entityType,
				Value:           value,
				NormalizedValue: p.normalize(raw),
				Position:        loc[0],
			})
		}
	}

	out = append(out, extractLawEntities(normalizedQuery)...)

	// Order of first occurrence; earlier match wins on overlapping positions.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

var lawKeywordRe = regexp.MustCompile(`\b(ley|c[óo]digo|reglamento|decreto)\b`)

var lawTokenRe = regexp.MustCompile(`^[a-záéíóúñü]+`)

// lawConnectors may appear inside a statute name but never end it.
var lawConnectors = map[string]bool{
	"de": true, "del": true, "la": true, "las": true, "el": true, "los": true,
	"a": true, "orgánica": true, "organica": true, "orgánico": true, "organico": true,
	"general": true,
}

// lawStopwords terminate a statute name: conjunctions and comparison glue that
// separate one mention from the next.
var lawStopwords = map[string]bool{
	"y": true, "o": true, "e": true, "u": true, "ni": true, "con": true,
	"versus": true, "vs": true, "que": true, "sobre": true, "para": true,
	"entre": true, "según": true, "segun": true,
}

// extractLawEntities finds named statutes: a keyword ("ley", "código", ...)
// followed by a short run of name tokens. Conjunctions end a name so that
// "la ley de compañías y el código civil" yields two separate mentions.
func extractLawEntities(normalizedQuery string) []domain.QueryEntity {
	const maxNameTokens = 4

	out := make([]domain.QueryEntity, 0, 2)
	for _, loc := range lawKeywordRe.FindAllStringIndex(normalizedQuery, -1) {
		end := loc[1]
		tokens := 0
		lastContentEnd := 0
		for tokens < maxNameTokens {
			rest := normalizedQuery[end:]
			trimmed := strings.TrimLeft(rest, " ")
			word := lawTokenRe.FindString(trimmed)
			if word == "" || lawStopwords[word] || lawKeywordRe.MatchString(word) {
				break
			}
			end += (len(rest) - len(trimmed)) + len(word)
			tokens++
			if !lawConnectors[word] {
				lastContentEnd = end
			}
		}
		// A bare keyword or one trailed only by connectors is not a name.
		if lastContentEnd == 0 {
			continue
		}
		value := normalizedQuery[loc[0]:lastContentEnd]
		out = append(out, domain.QueryEntity{
			Type:            domain.EntityLaw,
			Value:           value,
			NormalizedValue: value,
			Position:        loc[0],
		})
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var romanValues = map[byte]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

// romanOrDigits canonicalizes chapter/section numbers: arabic stays as-is,
// roman numerals are converted to digits.
func romanOrDigits(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return s
	}
	if s[0] >= '0' && s[0] <= '9' {
		return digitsOnly(s)
	}
	total := 0
	prev := 0
	for i := len(s) - 1; i >= 0; i-- {
		v, ok := romanValues[s[i]]
		if !ok {
			return s
		}
		if v < prev {
			total -= v
		} else {
			total += v
			prev = v
		}
	}
	return strconv.Itoa(total)
}
