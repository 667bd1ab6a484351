package usecase

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/lexrag/query-engine/internal/core/domain"
)

const (
	semanticTopK = 20
	keywordTopK  = 20
	metadataTopK = 10
	summaryTopK  = 10

	// Metadata matches carry a fixed score; title/summary ILIKE hits have no
	// finer ranking signal.
	metadataHitScore = 0.8
)

// retrieverFunc is the shared retriever contract: empty on no results, empty
// on failure — a retrieval failure degrades coverage, it never propagates.
type retrieverFunc func(ctx context.Context, query string, scope domain.Scope) []domain.SearchResult

func (uc *RouterUseCase) semanticSearch(ctx context.Context, query string, scope domain.Scope) []domain.SearchResult {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceSemantic, "stage", "embed", "error", err)
		return nil
	}
	results, err := uc.passages.SearchPassages(ctx, vector, semanticTopK, scope)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceSemantic, "stage", "search", "error", err)
		return nil
	}
	return sanitizeResults(results, domain.SourceSemantic)
}

func (uc *RouterUseCase) keywordSearch(ctx context.Context, query string, scope domain.Scope) []domain.SearchResult {
	results, err := uc.corpus.SearchKeyword(ctx, query, keywordTopK, scope)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceKeyword, "error", err)
		return nil
	}
	return sanitizeResults(results, domain.SourceKeyword)
}

func (uc *RouterUseCase) metadataSearch(ctx context.Context, query string, scope domain.Scope) []domain.SearchResult {
	results, err := uc.corpus.SearchMetadata(ctx, query, metadataTopK, scope)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceMetadata, "error", err)
		return nil
	}
	for i := range results {
		results[i].Score = metadataHitScore
	}
	return sanitizeResults(results, domain.SourceMetadata)
}

func (uc *RouterUseCase) summarySearch(ctx context.Context, query string, scope domain.Scope) []domain.SearchResult {
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceSummary, "stage", "embed", "error", err)
		return nil
	}
	results, err := uc.passages.SearchSummaries(ctx, vector, summaryTopK, scope)
	if err != nil {
		slog.Warn("retriever_degraded", "source", domain.SourceSummary, "stage", "search", "error", err)
		return nil
	}
	return sanitizeResults(results, domain.SourceSummary)
}

// sanitizeResults tags provenance and drops non-finite scores before results
// cross the fusion boundary.
func sanitizeResults(results []domain.SearchResult, source domain.SourceType) []domain.SearchResult {
	out := results[:0]
	for _, r := range results {
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			continue
		}
		r.SourceType = source
		out = append(out, r)
	}
	return out
}

// namedRetriever pairs a retriever with its observability label.
type namedRetriever struct {
	source   domain.SourceType
	retrieve retrieverFunc
}

// fanOut runs retrievers concurrently, each under its own timeout so one slow
// external call cannot stall the others. Results come back positionally, so
// fusion sees source rank order, never wall-clock arrival order.
func (uc *RouterUseCase) fanOut(ctx context.Context, query string, scope domain.Scope, retrievers []namedRetriever) [][]domain.SearchResult {
	out := make([][]domain.SearchResult, len(retrievers))
	var wg sync.WaitGroup
	for i, r := range retrievers {
		wg.Add(1)
		go func(i int, r namedRetriever) {
			defer wg.Done()
			branchCtx, cancel := context.WithTimeout(ctx, uc.limits.RetrieverTimeout)
			defer cancel()

			start := time.Now()
			out[i] = r.retrieve(branchCtx, query, scope)
			if uc.metrics != nil {
				uc.metrics.ObserveRetriever(string(r.source), len(out[i]), time.Since(start))
			}
		}(i, r)
	}
	wg.Wait()
	return out
}
