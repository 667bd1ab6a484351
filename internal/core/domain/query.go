package domain

// QueryType is the closed set of intents the classifier can assign.
type QueryType string

const (
	QueryTypeMetadata   QueryType = "metadata"
	QueryTypeNavigation QueryType = "navigation"
	QueryTypeContent    QueryType = "content"
	QueryTypeComparison QueryType = "comparison"
	QueryTypeSummary    QueryType = "summary"
	QueryTypeUnknown    QueryType = "unknown"
)

// IntentLabel is the optional one-word hint from the completion service.
// It is advisory only and never drives control flow.
type IntentLabel string

const (
	IntentLookup       IntentLabel = "lookup"
	IntentExplain      IntentLabel = "explain"
	IntentCompare      IntentLabel = "compare"
	IntentSummarize    IntentLabel = "summarize"
	IntentNavigate     IntentLabel = "navigate"
	IntentCount        IntentLabel = "count"
	IntentUnrecognized IntentLabel = "unrecognized"
)

type EntityType string

const (
	EntityArticle EntityType = "article"
	EntityChapter EntityType = "chapter"
	EntitySection EntityType = "section"
	EntityLaw     EntityType = "law"
	EntityDate    EntityType = "date"
	EntityGeneric EntityType = "entity"
)

// Retrieval strategy names carried in classifications and responses.
const (
	StrategySemanticSearch      = "semantic_search"
	StrategyKeywordSearch       = "keyword_search"
	StrategyMetadataSearch      = "metadata_search"
	StrategySummarySearch       = "summary_search"
	StrategyDocumentSummary     = "document_summary"
	StrategyStructureSearch     = "structure_search"
	StrategyDirectArticleLookup = "direct_article_lookup"
)

// QueryEntity is one structured mention extracted from the query text.
// Position is the byte offset of the mention in the normalized query.
type QueryEntity struct {
	Type            EntityType `json:"type"`
	Value           string     `json:"value"`
	NormalizedValue string     `json:"normalized_value"`
	Position        int        `json:"position"`
}

// QueryClassification is the result of classifying one query.
type QueryClassification struct {
	Type               QueryType     `json:"type"`
	Confidence         float64       `json:"confidence"`
	Entities           []QueryEntity `json:"entities"`
	Intent             IntentLabel   `json:"intent,omitempty"`
	RequiredStrategies []string      `json:"required_strategies"`
	NormalizedQuery    string        `json:"normalized_query"`
}

// EntitiesOfType returns the classification entities of one type, in query order.
func (c QueryClassification) EntitiesOfType(t EntityType) []QueryEntity {
	out := make([]QueryEntity, 0, len(c.Entities))
	for _, e := range c.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
