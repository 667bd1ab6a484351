package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// CorpusRepository is the relational side of the corpus: lexical full-text
// ranking, title/summary matching, and structural lookup. Passage ingestion
// and analysis are owned by the upstream pipeline; this repository only reads.
type CorpusRepository struct {
	db *sql.DB
}

func NewCorpusRepository(db *sql.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *CorpusRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	case_id TEXT,
	summary TEXT,
	total_articles INTEGER NOT NULL DEFAULT 0,
	total_chapters INTEGER NOT NULL DEFAULT 0,
	total_sections INTEGER NOT NULL DEFAULT 0,
	analyzed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	number TEXT NOT NULL,
	heading TEXT,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS passages (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	position INTEGER NOT NULL,
	content TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_articles_number ON articles(number);
CREATE INDEX IF NOT EXISTS idx_passages_document ON passages(document_id, position);
CREATE INDEX IF NOT EXISTS idx_passages_fts ON passages USING GIN (to_tsvector('spanish', content));
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// scopeClause restricts a documents alias to the query scope. Case-attached
// documents match their case id; library documents have no case id.
func scopeClause(alias string, scope domain.Scope, nextArg int) (string, []any) {
	col := alias + ".case_id"
	switch {
	case scope.CaseID != "" && scope.IncludeGlobal:
		return "(" + col + " = $" + strconv.Itoa(nextArg) + " OR " + col + " IS NULL)", []any{scope.CaseID}
	case scope.CaseID != "":
		return col + " = $" + strconv.Itoa(nextArg), []any{scope.CaseID}
	default:
		return col + " IS NULL", nil
	}
}

func (r *CorpusRepository) SearchKeyword(ctx context.Context, query string, limit int, scope domain.Scope) ([]domain.SearchResult, error) {
	scopeSQL, scopeArgs := scopeClause("d", scope, 3)
	stmt := `
SELECT p.id, p.document_id, d.title, p.content,
	ts_rank(to_tsvector('spanish', p.content), websearch_to_tsquery('spanish', $1)) AS rank
FROM passages p
JOIN documents d ON d.id = p.document_id
WHERE to_tsvector('spanish', p.content) @@ websearch_to_tsquery('spanish', $1)
	AND ` + scopeSQL + `
ORDER BY rank DESC, p.id
LIMIT $2
`
	args := append([]any{query, limit}, scopeArgs...)
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SearchResult, 0, limit)
	for rows.Next() {
		var id, documentID, title, content string
		var rank float64
		if err := rows.Scan(&id, &documentID, &title, &content, &rank); err != nil {
			return nil, fmt.Errorf("scan keyword result: %w", err)
		}
		out = append(out, domain.SearchResult{
			ID:         id,
			Content:    content,
			Score:      rank,
			SourceType: domain.SourceKeyword,
			Metadata:   map[string]string{"document_id": documentID, "title": title},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword results: %w", err)
	}
	return out, nil
}

func (r *CorpusRepository) SearchMetadata(ctx context.Context, term string, limit int, scope domain.Scope) ([]domain.SearchResult, error) {
	scopeSQL, scopeArgs := scopeClause("d", scope, 3)
	stmt := `
SELECT d.id, d.title, COALESCE(d.summary, '')
FROM documents d
WHERE (d.title ILIKE '%' || $1 || '%' OR d.summary ILIKE '%' || $1 || '%')
	AND ` + scopeSQL + `
ORDER BY d.updated_at DESC
LIMIT $2
`
	args := append([]any{term, limit}, scopeArgs...)
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SearchResult, 0, limit)
	for rows.Next() {
		var id, title, summary string
		if err := rows.Scan(&id, &title, &summary); err != nil {
			return nil, fmt.Errorf("scan metadata result: %w", err)
		}
		content := summary
		if content == "" {
			content = title
		}
		out = append(out, domain.SearchResult{
			ID:         id,
			Content:    content,
			SourceType: domain.SourceMetadata,
			Metadata:   map[string]string{"title": title},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata results: %w", err)
	}
	return out, nil
}

func (r *CorpusRepository) FindDocumentByTitle(ctx context.Context, title string, scope domain.Scope) (*domain.Document, error) {
	scopeSQL, scopeArgs := scopeClause("d", scope, 2)
	stmt := documentSelect + `
WHERE d.title ILIKE '%' || $1 || '%'
	AND ` + scopeSQL + `
ORDER BY d.updated_at DESC
LIMIT 1
`
	args := append([]any{title}, scopeArgs...)
	return r.scanDocument(r.db.QueryRowContext(ctx, stmt, args...), "find document by title")
}

func (r *CorpusRepository) MostRelevantDocument(ctx context.Context, query string, scope domain.Scope) (*domain.Document, error) {
	scopeSQL, scopeArgs := scopeClause("d", scope, 2)
	stmt := documentSelect + `
WHERE to_tsvector('spanish', d.title || ' ' || COALESCE(d.summary, '')) @@ websearch_to_tsquery('spanish', $1)
	AND ` + scopeSQL + `
ORDER BY ts_rank(to_tsvector('spanish', d.title || ' ' || COALESCE(d.summary, '')), websearch_to_tsquery('spanish', $1)) DESC
LIMIT 1
`
	args := append([]any{query}, scopeArgs...)
	return r.scanDocument(r.db.QueryRowContext(ctx, stmt, args...), "most relevant document")
}

func (r *CorpusRepository) GetArticleByNumber(ctx context.Context, number string, scope domain.Scope) (*domain.Article, error) {
	scopeSQL, scopeArgs := scopeClause("d", scope, 2)
	stmt := `
SELECT a.id, a.document_id, a.number, COALESCE(a.heading, ''), a.content
FROM articles a
JOIN documents d ON d.id = a.document_id
WHERE a.number = $1
	AND ` + scopeSQL + `
ORDER BY d.updated_at DESC
LIMIT 1
`
	args := append([]any{number}, scopeArgs...)
	var article domain.Article
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(
		&article.ID, &article.DocumentID, &article.Number, &article.Heading, &article.Content,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get article by number", fmt.Errorf("article %s", number))
		}
		return nil, fmt.Errorf("get article by number: %w", err)
	}
	return &article, nil
}

func (r *CorpusRepository) FirstPassages(ctx context.Context, documentID string, limit int) ([]domain.Passage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, position, content
FROM passages
WHERE document_id = $1
ORDER BY position ASC
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("first passages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Passage, 0, limit)
	for rows.Next() {
		var p domain.Passage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Position, &p.Content); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passages: %w", err)
	}
	return out, nil
}

const documentSelect = `
SELECT d.id, d.title, COALESCE(d.case_id, ''), COALESCE(d.summary, ''),
	d.total_articles, d.total_chapters, d.total_sections, d.analyzed,
	d.created_at, d.updated_at
FROM documents d`

func (r *CorpusRepository) scanDocument(row *sql.Row, operation string) (*domain.Document, error) {
	var doc domain.Document
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.CaseID, &doc.Summary,
		&doc.TotalArticles, &doc.TotalChapters, &doc.TotalSections, &doc.Analyzed,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, operation, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return &doc, nil
}
