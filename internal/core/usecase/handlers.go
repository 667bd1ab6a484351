package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/lexrag/query-engine/internal/core/domain"
)

const (
	noResultsAnswer  = "No encontré información relevante para su consulta en los documentos disponibles."
	noDocumentAnswer = "No pude identificar el documento al que se refiere su consulta. Indique el nombre de la ley o documento."

	// Confidence ceiling when synthesis degraded to the fallback text. Must
	// stay below the cache gate so fallback answers are never persisted.
	fallbackConfidence = 0.2
)

// handleContent runs the hybrid semantic+keyword retrieval, fuses with RRF,
// and synthesizes from the top fused passages.
func (uc *RouterUseCase) handleContent(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	strategies := []string{domain.StrategySemanticSearch, domain.StrategyKeywordSearch}

	lists := uc.fanOut(ctx, cls.NormalizedQuery, scope, []namedRetriever{
		{source: domain.SourceSemantic, retrieve: uc.semanticSearch},
		{source: domain.SourceKeyword, retrieve: uc.keywordSearch},
	})
	fused := fuseRRF([]rankedList{
		{results: lists[0], weight: uc.limits.SemanticWeight},
		{results: lists[1], weight: uc.limits.KeywordWeight},
	}, uc.limits.RRFK)

	if len(fused) == 0 {
		return &domain.RouteResponse{
			Answer:     noResultsAnswer,
			Sources:    []domain.SearchResult{},
			Confidence: 0.2,
			QueryType:  cls.Type,
			Strategies: strategies,
		}
	}

	top := trimResults(fused, uc.limits.TopSources)
	answer, generated := uc.synthesize(ctx, cls.NormalizedQuery, top, PromptContent)

	confidence := blendConfidence(top[0].Score, uc.limits.RRFK, cls.Confidence)
	if !generated {
		confidence = math.Min(confidence, fallbackConfidence)
	}

	return &domain.RouteResponse{
		Answer:     answer,
		Sources:    top,
		Confidence: confidence,
		QueryType:  cls.Type,
		Strategies: strategies,
	}
}

// handleNavigation resolves an article mention to its verbatim text; without
// a resolvable article it falls through to content retrieval.
func (uc *RouterUseCase) handleNavigation(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	articles := cls.EntitiesOfType(domain.EntityArticle)
	if len(articles) == 0 {
		return uc.handleContent(ctx, cls, scope)
	}

	lookupCtx, cancel := uc.withStoreTimeout(ctx)
	article, err := uc.corpus.GetArticleByNumber(lookupCtx, articles[0].NormalizedValue, scope)
	cancel()
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("article_lookup_failed", "number", articles[0].NormalizedValue, "error", err)
		}
		return uc.handleContent(ctx, cls, scope)
	}

	source := domain.SearchResult{
		ID:         article.ID,
		Content:    article.Content,
		Score:      1.0,
		SourceType: domain.SourceMetadata,
		Metadata: map[string]string{
			"document_id":    article.DocumentID,
			"article_number": article.Number,
			"title":          article.Heading,
		},
	}
	return &domain.RouteResponse{
		Answer:     article.Content,
		Sources:    []domain.SearchResult{source},
		Confidence: 1.0,
		QueryType:  cls.Type,
		Strategies: []string{domain.StrategyDirectArticleLookup},
	}
}

// handleMetadata answers structural questions from precomputed document
// metadata, requesting asynchronous analysis when it is missing.
func (uc *RouterUseCase) handleMetadata(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	doc := uc.resolveTargetDocument(ctx, cls, scope)
	if doc == nil {
		return &domain.RouteResponse{
			Answer:     noDocumentAnswer,
			Sources:    []domain.SearchResult{},
			Confidence: 0.3,
			QueryType:  cls.Type,
			Strategies: []string{domain.StrategyMetadataSearch},
		}
	}

	if !doc.Analyzed {
		if uc.analysis != nil {
			publishCtx, cancel := uc.withStoreTimeout(ctx)
			err := uc.analysis.PublishAnalysisRequested(publishCtx, doc.ID)
			cancel()
			if err != nil {
				slog.Warn("analysis_request_failed", "document_id", doc.ID, "error", err)
			}
		}
		return &domain.RouteResponse{
			Answer:     fmt.Sprintf("El documento %q aún no ha sido analizado estructuralmente. Se ha solicitado su análisis; intente de nuevo en unos minutos.", doc.Title),
			Sources:    []domain.SearchResult{},
			Confidence: 0.5,
			QueryType:  cls.Type,
			Strategies: []string{domain.StrategyMetadataSearch, domain.StrategyStructureSearch},
		}
	}

	answer := fmt.Sprintf("%s contiene %d artículos, %d capítulos y %d secciones.",
		doc.Title, doc.TotalArticles, doc.TotalChapters, doc.TotalSections)
	if doc.Summary != "" {
		answer += "\n\n" + doc.Summary
	}

	return &domain.RouteResponse{
		Answer:     answer,
		Sources:    []domain.SearchResult{documentAsResult(doc)},
		Confidence: 0.85,
		QueryType:  cls.Type,
		Strategies: cls.RequiredStrategies,
	}
}

// handleComparison fetches each compared entity's content independently and
// asks for a structured comparison. Fewer than two resolvable entities falls
// through to content retrieval.
func (uc *RouterUseCase) handleComparison(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	if len(cls.Entities) < 2 {
		return uc.handleContent(ctx, cls, scope)
	}

	const maxCompared = 4
	found := make([]domain.SearchResult, 0, maxCompared)
	for _, entity := range cls.Entities {
		if len(found) == maxCompared {
			break
		}
		if result, ok := uc.fetchEntityContent(ctx, entity, scope); ok {
			found = append(found, result)
		}
	}
	if len(found) < 2 {
		return uc.handleContent(ctx, cls, scope)
	}

	answer, generated := uc.synthesize(ctx, cls.NormalizedQuery, found, PromptComparison)
	confidence := blendConfidence(0.15*float64(len(found)), 1, cls.Confidence)
	if !generated {
		confidence = math.Min(confidence, fallbackConfidence)
	}

	return &domain.RouteResponse{
		Answer:     answer,
		Sources:    found,
		Confidence: confidence,
		QueryType:  cls.Type,
		Strategies: []string{domain.StrategySemanticSearch, domain.StrategyKeywordSearch},
	}
}

// handleSummary prefers a stored executive summary and otherwise generates
// one from the document's leading passages at reduced confidence.
func (uc *RouterUseCase) handleSummary(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	doc := uc.resolveTargetDocument(ctx, cls, scope)
	if doc == nil {
		return &domain.RouteResponse{
			Answer:     noDocumentAnswer,
			Sources:    []domain.SearchResult{},
			Confidence: 0.3,
			QueryType:  cls.Type,
			Strategies: []string{domain.StrategyDocumentSummary},
		}
	}

	if strings.TrimSpace(doc.Summary) != "" {
		return &domain.RouteResponse{
			Answer:     doc.Summary,
			Sources:    []domain.SearchResult{documentAsResult(doc)},
			Confidence: 0.9,
			QueryType:  cls.Type,
			Strategies: []string{domain.StrategyDocumentSummary},
		}
	}

	passagesCtx, cancel := uc.withStoreTimeout(ctx)
	passages, err := uc.corpus.FirstPassages(passagesCtx, doc.ID, uc.limits.SummaryPassages)
	cancel()
	if err != nil {
		slog.Warn("summary_passages_failed", "document_id", doc.ID, "error", err)
	}
	if len(passages) == 0 {
		return &domain.RouteResponse{
			Answer:     noResultsAnswer,
			Sources:    []domain.SearchResult{},
			Confidence: 0.2,
			QueryType:  cls.Type,
			Strategies: []string{domain.StrategySummarySearch},
		}
	}

	results := make([]domain.SearchResult, 0, len(passages))
	for _, p := range passages {
		results = append(results, domain.SearchResult{
			ID:         p.ID,
			Content:    p.Content,
			Score:      1.0,
			SourceType: domain.SourceSummary,
			Metadata:   map[string]string{"document_id": p.DocumentID, "title": doc.Title},
		})
	}
	answer, generated := uc.synthesize(ctx, "Resume el siguiente documento: "+doc.Title, results, PromptSummary)
	confidence := 0.8
	if !generated {
		confidence = fallbackConfidence
	}

	return &domain.RouteResponse{
		Answer:     answer,
		Sources:    trimResults(results, uc.limits.TopSources),
		Confidence: confidence,
		QueryType:  cls.Type,
		Strategies: []string{domain.StrategySummarySearch},
	}
}

// handleHybrid is the unknown-intent path: semantic, metadata, and summary
// retrievers run concurrently and merge on raw score rather than RRF.
func (uc *RouterUseCase) handleHybrid(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.RouteResponse {
	strategies := []string{domain.StrategySemanticSearch, domain.StrategyMetadataSearch, domain.StrategySummarySearch}

	lists := uc.fanOut(ctx, cls.NormalizedQuery, scope, []namedRetriever{
		{source: domain.SourceSemantic, retrieve: uc.semanticSearch},
		{source: domain.SourceMetadata, retrieve: uc.metadataSearch},
		{source: domain.SourceSummary, retrieve: uc.summarySearch},
	})
	merged := mergeByScore(lists...)

	if len(merged) == 0 {
		return &domain.RouteResponse{
			Answer:     noResultsAnswer,
			Sources:    []domain.SearchResult{},
			Confidence: 0.2,
			QueryType:  domain.QueryTypeUnknown,
			Strategies: strategies,
		}
	}

	top := trimResults(merged, uc.limits.TopSources)
	answer, generated := uc.synthesize(ctx, cls.NormalizedQuery, top, PromptHybrid)

	confidence := blendConfidence(top[0].Score, 1, cls.Confidence)
	if !generated {
		confidence = math.Min(confidence, fallbackConfidence)
	}

	return &domain.RouteResponse{
		Answer:     answer,
		Sources:    top,
		Confidence: confidence,
		QueryType:  domain.QueryTypeUnknown,
		Strategies: strategies,
	}
}

// synthesize bounds the completion call independently of retriever timeouts.
// The boolean reports whether the answer was generated rather than the
// fallback text.
func (uc *RouterUseCase) synthesize(ctx context.Context, query string, results []domain.SearchResult, variant PromptVariant) (string, bool) {
	synthCtx, cancel := context.WithTimeout(ctx, uc.limits.CompletionTimeout)
	defer cancel()
	return uc.synthesizer.Synthesize(synthCtx, query, results, variant)
}

// resolveTargetDocument maps law-name entities to a document, falling back to
// the most relevant document in scope.
func (uc *RouterUseCase) resolveTargetDocument(ctx context.Context, cls domain.QueryClassification, scope domain.Scope) *domain.Document {
	for _, entity := range cls.EntitiesOfType(domain.EntityLaw) {
		titleCtx, cancel := uc.withStoreTimeout(ctx)
		doc, err := uc.corpus.FindDocumentByTitle(titleCtx, entity.NormalizedValue, scope)
		cancel()
		if err == nil {
			return doc
		}
		if !domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("document_title_lookup_failed", "title", entity.NormalizedValue, "error", err)
		}
	}

	relevantCtx, cancel := uc.withStoreTimeout(ctx)
	doc, err := uc.corpus.MostRelevantDocument(relevantCtx, cls.NormalizedQuery, scope)
	cancel()
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			slog.Warn("relevant_document_lookup_failed", "error", err)
		}
		return nil
	}
	return doc
}

// fetchEntityContent resolves one compared entity to a passage: articles by
// direct lookup, everything else by its best keyword hit.
func (uc *RouterUseCase) fetchEntityContent(ctx context.Context, entity domain.QueryEntity, scope domain.Scope) (domain.SearchResult, bool) {
	if entity.Type == domain.EntityArticle {
		lookupCtx, cancel := uc.withStoreTimeout(ctx)
		article, err := uc.corpus.GetArticleByNumber(lookupCtx, entity.NormalizedValue, scope)
		cancel()
		if err != nil {
			if !domain.IsKind(err, domain.ErrNotFound) {
				slog.Warn("comparison_article_lookup_failed", "number", entity.NormalizedValue, "error", err)
			}
			return domain.SearchResult{}, false
		}
		return domain.SearchResult{
			ID:         article.ID,
			Content:    article.Content,
			Score:      1.0,
			SourceType: domain.SourceMetadata,
			Metadata: map[string]string{
				"document_id":    article.DocumentID,
				"article_number": article.Number,
				"title":          article.Heading,
			},
		}, true
	}

	searchCtx, cancel := uc.withStoreTimeout(ctx)
	hits := uc.keywordSearch(searchCtx, entity.Value, scope)
	cancel()
	if len(hits) == 0 {
		return domain.SearchResult{}, false
	}
	return hits[0], true
}

func documentAsResult(doc *domain.Document) domain.SearchResult {
	content := doc.Summary
	if content == "" {
		content = doc.Title
	}
	return domain.SearchResult{
		ID:         doc.ID,
		Content:    content,
		Score:      metadataHitScore,
		SourceType: domain.SourceMetadata,
		Metadata: map[string]string{
			"title":          doc.Title,
			"total_articles": fmt.Sprintf("%d", doc.TotalArticles),
			"total_chapters": fmt.Sprintf("%d", doc.TotalChapters),
			"total_sections": fmt.Sprintf("%d", doc.TotalSections),
		},
	}
}
