package domain

// SourceType identifies which retriever produced a SearchResult. Raw scores
// are not comparable across source types until fused.
type SourceType string

const (
	SourceSemantic SourceType = "semantic"
	SourceKeyword  SourceType = "keyword"
	SourceMetadata SourceType = "metadata"
	SourceSummary  SourceType = "summary"
)

// Scope is the corpus subset a query may search: the documents attached to a
// case plus, optionally, the shared legal library.
type Scope struct {
	CaseID        string `json:"case_id,omitempty"`
	IncludeGlobal bool   `json:"include_global"`
}

// SearchResult is one retrieved passage, regardless of retriever.
type SearchResult struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	SourceType SourceType        `json:"source_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RouteResponse is the engine's output contract.
type RouteResponse struct {
	Answer     string         `json:"answer"`
	Sources    []SearchResult `json:"sources"`
	Confidence float64        `json:"confidence"`
	FromCache  bool           `json:"from_cache"`
	QueryType  QueryType      `json:"query_type"`
	Strategies []string       `json:"strategies"`
}
