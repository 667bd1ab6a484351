package domain

import "time"

// CacheEntry is one persisted routed response, keyed by the hash of the
// normalized query. Expiry is enforced at read time; physical deletion is a
// housekeeping concern outside this engine.
type CacheEntry struct {
	QueryHash       string         `json:"query_hash"`
	QueryText       string         `json:"query_text"`
	QueryType       QueryType      `json:"query_type"`
	ResponseText    string         `json:"response_text"`
	SourceDocuments []SearchResult `json:"source_documents"`
	TTLSeconds      int            `json:"ttl_seconds"`
	ExpiresAt       time.Time      `json:"expires_at"`
	HitCount        int            `json:"hit_count"`
	CreatedAt       time.Time      `json:"created_at"`
	LastAccessedAt  time.Time      `json:"last_accessed_at"`
}
