package usecase

import (
	"sort"

	"github.com/lexrag/query-engine/internal/core/domain"
)

const (
	defaultRRFK           = 60.0
	fusionKeyContentChars = 50
)

// rankedList is one retriever's output with its fusion weight.
type rankedList struct {
	results []domain.SearchResult
	weight  float64
}

type fusedCandidate struct {
	result domain.SearchResult
	score  float64
}

// fuseRRF merges ranked lists with Reciprocal Rank Fusion: a result at
// zero-indexed rank r contributes weight/(r+k). Candidates are keyed by
// id plus a content prefix so distinct passages sharing an id never merge.
// Only rank within each source list matters; arrival order does not.
func fuseRRF(lists []rankedList, k float64) []domain.SearchResult {
	if k <= 0 {
		k = defaultRRFK
	}

	acc := make(map[string]fusedCandidate)
	for _, list := range lists {
		for rank, result := range list.results {
			key := fusionKey(result)
			candidate, ok := acc[key]
			if !ok {
				candidate.result = result
			}
			candidate.score += list.weight / (float64(rank) + k)
			acc[key] = candidate
		}
	}

	out := make([]domain.SearchResult, 0, len(acc))
	for _, c := range acc {
		result := c.result
		result.Score = c.score
		out = append(out, result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Content < out[j].Content
	})
	return out
}

// fusionKey combines the source id with a content prefix: multiple chunks of
// one document share an id but must stay separate fusion entries.
func fusionKey(result domain.SearchResult) string {
	content := result.Content
	if len(content) > fusionKeyContentChars {
		content = content[:fusionKeyContentChars]
	}
	return result.ID + "|" + content
}

// mergeByScore is the looser combination used by the hybrid handler: tag
// retained, duplicates dropped by fusion key, ordered by raw score.
func mergeByScore(lists ...[]domain.SearchResult) []domain.SearchResult {
	seen := make(map[string]struct{})
	out := make([]domain.SearchResult, 0)
	for _, list := range lists {
		for _, result := range list {
			key := fusionKey(result)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, result)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
