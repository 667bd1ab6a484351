package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lexrag/query-engine/internal/core/domain"
	"github.com/lexrag/query-engine/internal/core/ports"
)

// Limits bounds the router's external calls and shapes fusion and caching.
type Limits struct {
	TopSources         int
	RRFK               float64
	SemanticWeight     float64
	KeywordWeight      float64
	RetrieverTimeout   time.Duration
	CompletionTimeout  time.Duration
	CacheTTL           time.Duration
	CacheMinConfidence float64
	SummaryPassages    int
}

// EngineMetrics is the observability hook the router reports into.
type EngineMetrics interface {
	ObserveRetriever(source string, resultCount int, duration time.Duration)
	ObserveRoute(queryType string, fromCache bool, sourceCount int, duration time.Duration)
	IncCacheStore()
}

// RouterUseCase classifies a query, dispatches the matching strategy handler,
// and caches confident responses under the normalized-query hash.
type RouterUseCase struct {
	classifier  *Classifier
	synthesizer *Synthesizer
	embedder    ports.Embedder
	passages    ports.PassageIndex
	corpus      ports.CorpusStore
	cache       ports.ResponseCacheStore
	analysis    ports.AnalysisQueue
	metrics     EngineMetrics
	limits      Limits
}

func NewRouterUseCase(
	classifier *Classifier,
	synthesizer *Synthesizer,
	embedder ports.Embedder,
	passages ports.PassageIndex,
	corpus ports.CorpusStore,
	cache ports.ResponseCacheStore,
	analysis ports.AnalysisQueue,
	metrics EngineMetrics,
	limits Limits,
) *RouterUseCase {
	if limits.TopSources <= 0 {
		limits.TopSources = 5
	}
	if limits.RRFK <= 0 {
		limits.RRFK = defaultRRFK
	}
	if limits.SemanticWeight <= 0 {
		limits.SemanticWeight = 0.6
	}
	if limits.KeywordWeight <= 0 {
		limits.KeywordWeight = 0.4
	}
	if limits.RetrieverTimeout <= 0 {
		limits.RetrieverTimeout = 5 * time.Second
	}
	if limits.CompletionTimeout <= 0 {
		limits.CompletionTimeout = 30 * time.Second
	}
	if limits.CacheTTL <= 0 {
		limits.CacheTTL = 24 * time.Hour
	}
	if limits.CacheMinConfidence <= 0 {
		limits.CacheMinConfidence = 0.7
	}
	if limits.SummaryPassages <= 0 {
		limits.SummaryPassages = 8
	}

	return &RouterUseCase{
		classifier:  classifier,
		synthesizer: synthesizer,
		embedder:    embedder,
		passages:    passages,
		corpus:      corpus,
		cache:       cache,
		analysis:    analysis,
		metrics:     metrics,
		limits:      limits,
	}
}

// Route answers a query against the scoped corpus. Collaborator failures
// degrade confidence or coverage; the only error returned is invalid input.
func (uc *RouterUseCase) Route(ctx context.Context, query string, scope domain.Scope) (*domain.RouteResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "route", fmt.Errorf("query is required"))
	}
	start := time.Now()

	normalized := normalizeQuery(query)
	hash := queryHash(normalized)

	if cached := uc.lookupCache(ctx, hash); cached != nil {
		uc.observeRoute(cached, start)
		return cached, nil
	}

	cls := uc.classifier.Classify(ctx, query)

	var resp *domain.RouteResponse
	switch cls.Type {
	case domain.QueryTypeMetadata:
		resp = uc.handleMetadata(ctx, cls, scope)
	case domain.QueryTypeNavigation:
		resp = uc.handleNavigation(ctx, cls, scope)
	case domain.QueryTypeContent:
		resp = uc.handleContent(ctx, cls, scope)
	case domain.QueryTypeComparison:
		resp = uc.handleComparison(ctx, cls, scope)
	case domain.QueryTypeSummary:
		resp = uc.handleSummary(ctx, cls, scope)
	default:
		resp = uc.handleHybrid(ctx, cls, scope)
	}

	uc.storeCache(ctx, hash, normalized, resp)
	uc.observeRoute(resp, start)
	return resp, nil
}

// queryHash is the content address of a normalized query.
func queryHash(normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return hex.EncodeToString(sum[:])
}

// withStoreTimeout bounds a single datastore, cache, or queue call. Request
// contexts arrive without a deadline; one stuck connection must not stall
// the route.
func (uc *RouterUseCase) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.limits.RetrieverTimeout)
}

// lookupCache returns a fully trusted response on hit, nil on miss. A cache
// hit is served at full confidence regardless of the stored response's own.
func (uc *RouterUseCase) lookupCache(ctx context.Context, hash string) *domain.RouteResponse {
	if uc.cache == nil {
		return nil
	}
	getCtx, cancel := uc.withStoreTimeout(ctx)
	entry, err := uc.cache.Get(getCtx, hash)
	cancel()
	if err != nil {
		if !domain.IsKind(err, domain.ErrCacheMiss) {
			slog.Warn("cache_lookup_failed", "error", err)
		}
		return nil
	}
	return &domain.RouteResponse{
		Answer:     entry.ResponseText,
		Sources:    entry.SourceDocuments,
		Confidence: 1.0,
		FromCache:  true,
		QueryType:  entry.QueryType,
		Strategies: []string{"cache"},
	}
}

// storeCache persists responses above the confidence gate. Failures are
// logged, never surfaced.
func (uc *RouterUseCase) storeCache(ctx context.Context, hash, normalized string, resp *domain.RouteResponse) {
	if uc.cache == nil || resp == nil || resp.Confidence <= uc.limits.CacheMinConfidence {
		return
	}
	now := time.Now().UTC()
	entry := &domain.CacheEntry{
		QueryHash:       hash,
		QueryText:       normalized,
		QueryType:       resp.QueryType,
		ResponseText:    resp.Answer,
		SourceDocuments: resp.Sources,
		TTLSeconds:      int(uc.limits.CacheTTL.Seconds()),
		ExpiresAt:       now.Add(uc.limits.CacheTTL),
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	upsertCtx, cancel := uc.withStoreTimeout(ctx)
	err := uc.cache.Upsert(upsertCtx, entry)
	cancel()
	if err != nil {
		slog.Warn("cache_store_failed", "error", err)
		return
	}
	if uc.metrics != nil {
		uc.metrics.IncCacheStore()
	}
}

func (uc *RouterUseCase) observeRoute(resp *domain.RouteResponse, start time.Time) {
	if uc.metrics == nil || resp == nil {
		return
	}
	uc.metrics.ObserveRoute(string(resp.QueryType), resp.FromCache, len(resp.Sources), time.Since(start))
}

// blendConfidence keeps answer confidence monotone in both the top fused
// score (scaled into [0,1]) and the classification confidence.
func blendConfidence(topScore, scale, classificationConfidence float64) float64 {
	scaled := math.Min(1, topScore*scale)
	confidence := 0.4 + 0.4*scaled + 0.2*classificationConfidence
	return math.Min(0.95, math.Max(0, confidence))
}
