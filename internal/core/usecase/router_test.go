package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lexrag/query-engine/internal/core/domain"
)

type embedderFake struct {
	err error
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type passageIndexFake struct {
	passages  []domain.SearchResult
	summaries []domain.SearchResult
	err       error
}

func (f *passageIndexFake) SearchPassages(context.Context, []float32, int, domain.Scope) ([]domain.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

func (f *passageIndexFake) SearchSummaries(context.Context, []float32, int, domain.Scope) ([]domain.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summaries, nil
}

type corpusFake struct {
	keyword     []domain.SearchResult
	metadata    []domain.SearchResult
	docByTitle  *domain.Document
	relevant    *domain.Document
	article     *domain.Article
	passages    []domain.Passage
	keywordErr  error
	articleReqs []string
}

func notFound(op string) error {
	return domain.WrapError(domain.ErrNotFound, op, errors.New("no rows"))
}

func (f *corpusFake) SearchKeyword(context.Context, string, int, domain.Scope) ([]domain.SearchResult, error) {
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	return f.keyword, nil
}

func (f *corpusFake) SearchMetadata(context.Context, string, int, domain.Scope) ([]domain.SearchResult, error) {
	return f.metadata, nil
}

func (f *corpusFake) FindDocumentByTitle(context.Context, string, domain.Scope) (*domain.Document, error) {
	if f.docByTitle == nil {
		return nil, notFound("find document by title")
	}
	return f.docByTitle, nil
}

func (f *corpusFake) MostRelevantDocument(context.Context, string, domain.Scope) (*domain.Document, error) {
	if f.relevant == nil {
		return nil, notFound("most relevant document")
	}
	return f.relevant, nil
}

func (f *corpusFake) GetArticleByNumber(_ context.Context, number string, _ domain.Scope) (*domain.Article, error) {
	f.articleReqs = append(f.articleReqs, number)
	if f.article == nil {
		return nil, notFound("get article by number")
	}
	return f.article, nil
}

func (f *corpusFake) FirstPassages(context.Context, string, int) ([]domain.Passage, error) {
	return f.passages, nil
}

type cacheFake struct {
	entries   map[string]*domain.CacheEntry
	getErr    error
	upsertErr error
	upserts   int
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: make(map[string]*domain.CacheEntry)}
}

func (f *cacheFake) Get(_ context.Context, queryHash string) (*domain.CacheEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[queryHash]
	if !ok {
		return nil, domain.WrapError(domain.ErrCacheMiss, "cache get", errors.New("no rows"))
	}
	return entry, nil
}

func (f *cacheFake) Upsert(_ context.Context, entry *domain.CacheEntry) error {
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.entries[entry.QueryHash] = entry
	return nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishAnalysisRequested(_ context.Context, documentID string) error {
	f.published = append(f.published, documentID)
	if f.err != nil {
		return f.err
	}
	return nil
}

type routerFixture struct {
	corpus     *corpusFake
	cache      *cacheFake
	queue      *queueFake
	index      *passageIndexFake
	completion *synthCompletionFake
	embedder   *embedderFake
}

func newRouterFixture() *routerFixture {
	return &routerFixture{
		corpus:     &corpusFake{},
		cache:      newCacheFake(),
		queue:      &queueFake{},
		index:      &passageIndexFake{},
		completion: &synthCompletionFake{response: "respuesta sintetizada"},
		embedder:   &embedderFake{},
	}
}

func (f *routerFixture) build() *RouterUseCase {
	classifier := NewClassifier(nil, nil, 0)
	synthesizer := NewSynthesizer(f.completion, 0, 0)
	return NewRouterUseCase(classifier, synthesizer, f.embedder, f.index, f.corpus, f.cache, f.queue, nil, Limits{})
}

func TestRouteRejectsEmptyQuery(t *testing.T) {
	uc := newRouterFixture().build()

	_, err := uc.Route(context.Background(), "   ", domain.Scope{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRouteContentQuery(t *testing.T) {
	f := newRouterFixture()
	f.index.passages = []domain.SearchResult{
		{ID: "p1", Content: "los requisitos son tres", Score: 0.91},
		{ID: "p2", Content: "otro pasaje", Score: 0.60},
	}
	f.corpus.keyword = []domain.SearchResult{
		{ID: "p1", Content: "los requisitos son tres", Score: 2.1},
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿Qué dice la norma sobre los requisitos?", domain.Scope{IncludeGlobal: true})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeContent {
		t.Fatalf("expected content, got %s", resp.QueryType)
	}
	if resp.Answer != "respuesta sintetizada" {
		t.Fatalf("expected synthesized answer, got %q", resp.Answer)
	}
	if resp.FromCache {
		t.Fatalf("first route must not come from cache")
	}
	if len(resp.Sources) == 0 {
		t.Fatalf("expected sources")
	}
	// p1 ranked first in both lists: highest fused score.
	if resp.Sources[0].ID != "p1" {
		t.Fatalf("expected p1 first, got %s", resp.Sources[0].ID)
	}
	if resp.Confidence <= 0 || resp.Confidence > 0.95 {
		t.Fatalf("confidence out of range: %f", resp.Confidence)
	}
}

func TestRouteDegradedRetrieversYieldLowConfidenceNotError(t *testing.T) {
	f := newRouterFixture()
	f.embedder.err = errors.New("embedder down")
	f.corpus.keywordErr = errors.New("postgres down")
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿qué dice la norma sobre los plazos?", domain.Scope{})
	if err != nil {
		t.Fatalf("collaborator failures must not surface: %v", err)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(resp.Sources))
	}
	if resp.Confidence >= 0.3 {
		t.Fatalf("expected degraded confidence, got %f", resp.Confidence)
	}
	if resp.Answer == "" {
		t.Fatalf("expected explanatory answer")
	}
	if f.cache.upserts != 0 {
		t.Fatalf("low-confidence responses must not be cached")
	}
}

func TestRouteCompletionFailureIsNeverCached(t *testing.T) {
	f := newRouterFixture()
	f.completion.err = errors.New("llm down")
	f.index.passages = []domain.SearchResult{
		{ID: "p1", Content: "los requisitos son tres", Score: 0.91},
	}
	f.corpus.keyword = []domain.SearchResult{
		{ID: "p1", Content: "los requisitos son tres", Score: 2.1},
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿Qué dice la norma sobre los requisitos?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Answer != synthesisFallback {
		t.Fatalf("expected fallback answer, got %q", resp.Answer)
	}
	if resp.Confidence > fallbackConfidence {
		t.Fatalf("fallback answer must not look confident: %f", resp.Confidence)
	}
	if f.cache.upserts != 0 {
		t.Fatalf("fallback answer must never be cached, upserts=%d", f.cache.upserts)
	}

	// Once the completion service recovers, the same query is answered and
	// cached normally.
	f.completion.err = nil
	resp, err = uc.Route(context.Background(), "¿Qué dice la norma sobre los requisitos?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.FromCache {
		t.Fatalf("recovered query must not hit a poisoned cache entry")
	}
	if resp.Answer != "respuesta sintetizada" {
		t.Fatalf("expected generated answer after recovery, got %q", resp.Answer)
	}
	if f.cache.upserts != 1 {
		t.Fatalf("recovered answer should be cached, upserts=%d", f.cache.upserts)
	}
}

func TestRouteSummaryCompletionFailureDegradesConfidence(t *testing.T) {
	f := newRouterFixture()
	f.completion.err = errors.New("llm down")
	f.corpus.relevant = &domain.Document{ID: "doc-1", Title: "Código Civil"}
	f.corpus.passages = []domain.Passage{
		{ID: "pass-1", DocumentID: "doc-1", Position: 0, Content: "título preliminar"},
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "resume el código civil", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Answer != synthesisFallback {
		t.Fatalf("expected fallback answer, got %q", resp.Answer)
	}
	if resp.Confidence != fallbackConfidence {
		t.Fatalf("expected degraded confidence, got %f", resp.Confidence)
	}
	if f.cache.upserts != 0 {
		t.Fatalf("fallback answer must never be cached")
	}
}

type deadlineRecordingCorpus struct {
	corpusFake
	deadlines []bool
}

func (f *deadlineRecordingCorpus) record(ctx context.Context) {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
}

func (f *deadlineRecordingCorpus) GetArticleByNumber(ctx context.Context, number string, scope domain.Scope) (*domain.Article, error) {
	f.record(ctx)
	return f.corpusFake.GetArticleByNumber(ctx, number, scope)
}

func (f *deadlineRecordingCorpus) MostRelevantDocument(ctx context.Context, query string, scope domain.Scope) (*domain.Document, error) {
	f.record(ctx)
	return f.corpusFake.MostRelevantDocument(ctx, query, scope)
}

func (f *deadlineRecordingCorpus) FirstPassages(ctx context.Context, documentID string, limit int) ([]domain.Passage, error) {
	f.record(ctx)
	return f.corpusFake.FirstPassages(ctx, documentID, limit)
}

type deadlineRecordingCache struct {
	*cacheFake
	getDeadline    bool
	upsertDeadline bool
}

func (f *deadlineRecordingCache) Get(ctx context.Context, queryHash string) (*domain.CacheEntry, error) {
	_, f.getDeadline = ctx.Deadline()
	return f.cacheFake.Get(ctx, queryHash)
}

func (f *deadlineRecordingCache) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	_, f.upsertDeadline = ctx.Deadline()
	return f.cacheFake.Upsert(ctx, entry)
}

func TestRouteDirectLookupsCarryDeadline(t *testing.T) {
	corpus := &deadlineRecordingCorpus{}
	corpus.article = &domain.Article{ID: "art-76", DocumentID: "doc-1", Number: "76", Content: "texto"}
	corpus.relevant = &domain.Document{ID: "doc-1", Title: "Código Civil"}
	corpus.passages = []domain.Passage{{ID: "pass-1", DocumentID: "doc-1", Content: "texto"}}
	cache := &deadlineRecordingCache{cacheFake: newCacheFake()}

	classifier := NewClassifier(nil, nil, 0)
	synthesizer := NewSynthesizer(&synthCompletionFake{response: "ok"}, 0, 0)
	uc := NewRouterUseCase(classifier, synthesizer, &embedderFake{}, &passageIndexFake{}, corpus, cache, &queueFake{}, nil, Limits{})

	// Navigation exercises the article lookup plus cache get and upsert;
	// summary exercises document resolution and leading passages.
	if _, err := uc.Route(context.Background(), "Artículo 76", domain.Scope{}); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if _, err := uc.Route(context.Background(), "resume el código civil", domain.Scope{}); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if len(corpus.deadlines) < 3 {
		t.Fatalf("expected at least three corpus lookups, got %d", len(corpus.deadlines))
	}
	for i, bounded := range corpus.deadlines {
		if !bounded {
			t.Fatalf("corpus lookup %d ran on an unbounded context", i)
		}
	}
	if !cache.getDeadline || !cache.upsertDeadline {
		t.Fatalf("cache calls must carry a deadline: get=%v upsert=%v", cache.getDeadline, cache.upsertDeadline)
	}
}

func TestRouteNavigationReturnsArticleVerbatim(t *testing.T) {
	f := newRouterFixture()
	f.corpus.article = &domain.Article{
		ID:         "art-76",
		DocumentID: "doc-1",
		Number:     "76",
		Heading:    "Garantías básicas",
		Content:    "En todo proceso se asegurará el derecho al debido proceso.",
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "Artículo 76", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeNavigation {
		t.Fatalf("expected navigation, got %s", resp.QueryType)
	}
	if resp.Answer != f.corpus.article.Content {
		t.Fatalf("expected verbatim article text, got %q", resp.Answer)
	}
	if resp.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %f", resp.Confidence)
	}
	if len(resp.Strategies) != 1 || resp.Strategies[0] != domain.StrategyDirectArticleLookup {
		t.Fatalf("expected direct_article_lookup, got %v", resp.Strategies)
	}
	if len(f.corpus.articleReqs) != 1 || f.corpus.articleReqs[0] != "76" {
		t.Fatalf("expected lookup of article 76, got %v", f.corpus.articleReqs)
	}
	// The completion service is never needed for a direct lookup.
	if f.completion.user != "" {
		t.Fatalf("unexpected synthesis call: %q", f.completion.user)
	}
}

func TestRouteNavigationMissFallsThroughToContent(t *testing.T) {
	f := newRouterFixture()
	f.index.passages = []domain.SearchResult{{ID: "p1", Content: "texto", Score: 0.8}}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "Artículo 999", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Answer != "respuesta sintetizada" {
		t.Fatalf("expected content fallback, got %q", resp.Answer)
	}
	if resp.Confidence == 1.0 {
		t.Fatalf("fallback must not report lookup confidence")
	}
}

func TestRouteMetadataAnalyzedDocument(t *testing.T) {
	f := newRouterFixture()
	f.corpus.docByTitle = &domain.Document{
		ID:            "doc-1",
		Title:         "Constitución de la República",
		TotalArticles: 444,
		TotalChapters: 9,
		TotalSections: 26,
		Analyzed:      true,
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿Cuántos artículos tiene la Constitución?", domain.Scope{IncludeGlobal: true})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeMetadata {
		t.Fatalf("expected metadata, got %s", resp.QueryType)
	}
	if !strings.Contains(resp.Answer, "444 artículos") {
		t.Fatalf("expected article count in answer, got %q", resp.Answer)
	}
	if resp.Confidence != 0.85 {
		t.Fatalf("expected confidence 0.85, got %f", resp.Confidence)
	}
	if len(f.queue.published) != 0 {
		t.Fatalf("analyzed document must not trigger analysis")
	}
	if f.cache.upserts != 1 {
		t.Fatalf("confident response must be cached, upserts=%d", f.cache.upserts)
	}
}

func TestRouteMetadataUnanalyzedRequestsAnalysis(t *testing.T) {
	f := newRouterFixture()
	f.corpus.docByTitle = &domain.Document{
		ID:    "doc-2",
		Title: "Ley de Compañías",
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿Cuántos artículos tiene la ley de compañías?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Confidence != 0.5 {
		t.Fatalf("expected placeholder confidence 0.5, got %f", resp.Confidence)
	}
	if len(f.queue.published) != 1 || f.queue.published[0] != "doc-2" {
		t.Fatalf("expected analysis request for doc-2, got %v", f.queue.published)
	}
	if f.cache.upserts != 0 {
		t.Fatalf("placeholder must not be cached")
	}
}

func TestRouteMetadataWithoutDocument(t *testing.T) {
	uc := newRouterFixture().build()

	resp, err := uc.Route(context.Background(), "¿cuántos artículos tiene?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Confidence != 0.3 {
		t.Fatalf("expected confidence 0.3, got %f", resp.Confidence)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources")
	}
}

func TestRouteSummaryPrefersStoredSummary(t *testing.T) {
	f := newRouterFixture()
	f.corpus.relevant = &domain.Document{
		ID:      "doc-1",
		Title:   "Código Civil",
		Summary: "Regula las relaciones civiles entre personas.",
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿De qué trata este documento?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeSummary {
		t.Fatalf("expected summary, got %s", resp.QueryType)
	}
	if resp.Answer != f.corpus.relevant.Summary {
		t.Fatalf("expected stored summary, got %q", resp.Answer)
	}
	if resp.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %f", resp.Confidence)
	}
}

func TestRouteSummaryGeneratesFromPassages(t *testing.T) {
	f := newRouterFixture()
	f.corpus.relevant = &domain.Document{ID: "doc-1", Title: "Código Civil"}
	f.corpus.passages = []domain.Passage{
		{ID: "pass-1", DocumentID: "doc-1", Position: 0, Content: "título preliminar"},
		{ID: "pass-2", DocumentID: "doc-1", Position: 1, Content: "de las personas"},
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "resume el código civil", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.Answer != "respuesta sintetizada" {
		t.Fatalf("expected generated summary, got %q", resp.Answer)
	}
	if resp.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %f", resp.Confidence)
	}
	if !strings.Contains(f.completion.user, "título preliminar") {
		t.Fatalf("expected passages in synthesis context")
	}
}

func TestRouteComparisonFetchesBothArticles(t *testing.T) {
	f := newRouterFixture()
	f.corpus.article = &domain.Article{
		ID:         "art",
		DocumentID: "doc-1",
		Number:     "10",
		Content:    "texto del artículo",
	}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "compara las diferencias entre el artículo 10 y el artículo 20", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeComparison {
		t.Fatalf("expected comparison, got %s", resp.QueryType)
	}
	if len(f.corpus.articleReqs) != 2 {
		t.Fatalf("expected two article lookups, got %v", f.corpus.articleReqs)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected two compared sources, got %d", len(resp.Sources))
	}
}

func TestRouteUnknownQueryUsesHybrid(t *testing.T) {
	f := newRouterFixture()
	f.index.passages = []domain.SearchResult{{ID: "p1", Content: "pasaje", Score: 0.7}}
	f.index.summaries = []domain.SearchResult{{ID: "s1", Content: "resumen", Score: 0.9}}
	f.corpus.metadata = []domain.SearchResult{{ID: "d1", Content: "doc"}}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "hola necesito ayuda legal", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if resp.QueryType != domain.QueryTypeUnknown {
		t.Fatalf("expected unknown, got %s", resp.QueryType)
	}
	// Highest raw score first: the summary hit.
	if resp.Sources[0].ID != "s1" {
		t.Fatalf("expected s1 first, got %s", resp.Sources[0].ID)
	}
}

func TestRouteCacheHitIsDeterministic(t *testing.T) {
	f := newRouterFixture()
	f.corpus.docByTitle = &domain.Document{
		ID:            "doc-1",
		Title:         "Constitución de la República",
		TotalArticles: 444,
		Analyzed:      true,
	}
	uc := f.build()

	first, err := uc.Route(context.Background(), "¿Cuántos artículos tiene la Constitución?", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if first.FromCache {
		t.Fatalf("first response must not be cached")
	}

	// Same query with different casing and spacing hits the same entry.
	second, err := uc.Route(context.Background(), "  ¿cuántos ARTÍCULOS tiene la constitución?  ", domain.Scope{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if !second.FromCache {
		t.Fatalf("expected cache hit")
	}
	if second.Confidence != 1.0 {
		t.Fatalf("cache hits are fully trusted, got %f", second.Confidence)
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer must match original")
	}
	if len(second.Strategies) != 1 || second.Strategies[0] != "cache" {
		t.Fatalf("expected cache strategy, got %v", second.Strategies)
	}
}

func TestRouteCacheFailuresAreSwallowed(t *testing.T) {
	f := newRouterFixture()
	f.cache.getErr = errors.New("postgres down")
	f.cache.upsertErr = errors.New("postgres down")
	f.corpus.docByTitle = &domain.Document{ID: "doc-1", Title: "Constitución", TotalArticles: 444, Analyzed: true}
	uc := f.build()

	resp, err := uc.Route(context.Background(), "¿Cuántos artículos tiene la Constitución?", domain.Scope{})
	if err != nil {
		t.Fatalf("cache failures must not surface: %v", err)
	}
	if resp.FromCache {
		t.Fatalf("failed lookup cannot hit")
	}
}

func TestBlendConfidenceBounds(t *testing.T) {
	if got := blendConfidence(100, 60, 1); got != 0.95 {
		t.Fatalf("expected cap 0.95, got %f", got)
	}
	if got := blendConfidence(0, 1, 0); got != 0.4 {
		t.Fatalf("expected floor term 0.4, got %f", got)
	}
	low := blendConfidence(0.01, 1, 0.1)
	high := blendConfidence(0.9, 1, 0.9)
	if low >= high {
		t.Fatalf("confidence must be monotone: %f >= %f", low, high)
	}
}
