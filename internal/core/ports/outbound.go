package ports

import (
	"context"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// Embedder builds a vector for query text. Oversized input is truncated by
// the implementation, never rejected.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CompletionService produces text from a role-based prompt.
type CompletionService interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// PassageIndex performs vector similarity search over passage and summary
// embeddings.
type PassageIndex interface {
	SearchPassages(ctx context.Context, queryVector []float32, limit int, scope domain.Scope) ([]domain.SearchResult, error)
	SearchSummaries(ctx context.Context, queryVector []float32, limit int, scope domain.Scope) ([]domain.SearchResult, error)
}

// CorpusStore is the relational side of the corpus: lexical ranking,
// title/summary matching, and structural lookup.
type CorpusStore interface {
	SearchKeyword(ctx context.Context, query string, limit int, scope domain.Scope) ([]domain.SearchResult, error)
	SearchMetadata(ctx context.Context, term string, limit int, scope domain.Scope) ([]domain.SearchResult, error)
	FindDocumentByTitle(ctx context.Context, title string, scope domain.Scope) (*domain.Document, error)
	MostRelevantDocument(ctx context.Context, query string, scope domain.Scope) (*domain.Document, error)
	GetArticleByNumber(ctx context.Context, number string, scope domain.Scope) (*domain.Article, error)
	FirstPassages(ctx context.Context, documentID string, limit int) ([]domain.Passage, error)
}

// ResponseCacheStore persists routed responses keyed by query hash.
// Get must enforce expiry and atomically record the hit; Upsert must be
// atomic on the key (last writer wins on content, hit count only grows).
type ResponseCacheStore interface {
	Get(ctx context.Context, queryHash string) (*domain.CacheEntry, error)
	Upsert(ctx context.Context, entry *domain.CacheEntry) error
}

// AnalysisQueue requests asynchronous structural analysis of a document.
type AnalysisQueue interface {
	PublishAnalysisRequested(ctx context.Context, documentID string) error
}
