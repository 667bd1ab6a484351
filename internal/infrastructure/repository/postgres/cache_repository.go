package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// CacheRepository stores synthesized answers keyed by normalized query hash.
// Both paths are single statements so concurrent readers and writers never
// observe a torn hit counter.
type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func (r *CacheRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082302)); err != nil {
		return fmt.Errorf("acquire cache schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS query_cache (
	query_hash TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	query_type TEXT NOT NULL,
	response_text TEXT NOT NULL,
	source_documents JSONB NOT NULL DEFAULT '[]',
	ttl_seconds INTEGER NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_query_cache_expires_at ON query_cache(expires_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute cache schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache schema tx: %w", err)
	}
	return nil
}

// Get returns the live entry for the hash and bumps its hit counter in the
// same statement. Expired or absent entries surface as ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, queryHash string) (*domain.CacheEntry, error) {
	const query = `
UPDATE query_cache
SET hit_count = hit_count + 1, last_accessed_at = NOW()
WHERE query_hash = $1 AND expires_at > NOW()
RETURNING query_hash, query_text, query_type, response_text, source_documents,
	ttl_seconds, expires_at, hit_count, created_at, last_accessed_at
`
	var entry domain.CacheEntry
	var sources []byte
	err := r.db.QueryRowContext(ctx, query, queryHash).Scan(
		&entry.QueryHash, &entry.QueryText, &entry.QueryType, &entry.ResponseText, &sources,
		&entry.TTLSeconds, &entry.ExpiresAt, &entry.HitCount, &entry.CreatedAt, &entry.LastAccessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrCacheMiss, "cache get", sql.ErrNoRows)
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &entry.SourceDocuments); err != nil {
			return nil, fmt.Errorf("decode cached sources: %w", err)
		}
	}
	return &entry, nil
}

// Upsert inserts a fresh entry or refreshes an existing one. A refresh keeps
// the accumulated hit count and adds one for the store itself.
func (r *CacheRepository) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	sources, err := json.Marshal(entry.SourceDocuments)
	if err != nil {
		return fmt.Errorf("encode cached sources: %w", err)
	}

	const query = `
INSERT INTO query_cache (query_hash, query_text, query_type, response_text, source_documents,
	ttl_seconds, expires_at, hit_count, created_at, last_accessed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
ON CONFLICT (query_hash) DO UPDATE SET
	query_text = EXCLUDED.query_text,
	query_type = EXCLUDED.query_type,
	response_text = EXCLUDED.response_text,
	source_documents = EXCLUDED.source_documents,
	ttl_seconds = EXCLUDED.ttl_seconds,
	expires_at = EXCLUDED.expires_at,
	hit_count = query_cache.hit_count + 1,
	last_accessed_at = NOW()
`
	if _, err := r.db.ExecContext(ctx, query,
		entry.QueryHash, entry.QueryText, entry.QueryType, entry.ResponseText, sources,
		entry.TTLSeconds, entry.ExpiresAt,
	); err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// PurgeExpired removes dead entries; meant for a periodic sweep, not the
// request path.
func (r *CacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM query_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge rows affected: %w", err)
	}
	return affected, nil
}
