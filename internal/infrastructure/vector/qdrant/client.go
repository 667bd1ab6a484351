package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexrag/query-engine/internal/core/domain"
)

// Client performs similarity search against two Qdrant collections: one with
// passage embeddings and one with per-document summary embeddings. Indexing
// is owned by the ingestion pipeline; this client only reads.
type Client struct {
	baseURL            string
	passagesCollection string
	summaryCollection  string
	httpClient         *http.Client
}

func New(baseURL, passagesCollection, summaryCollection string) *Client {
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		passagesCollection: passagesCollection,
		summaryCollection:  summaryCollection,
		httpClient:         &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) SearchPassages(ctx context.Context, queryVector []float32, limit int, scope domain.Scope) ([]domain.SearchResult, error) {
	return c.search(ctx, c.passagesCollection, queryVector, limit, scope, domain.SourceSemantic)
}

func (c *Client) SearchSummaries(ctx context.Context, queryVector []float32, limit int, scope domain.Scope) ([]domain.SearchResult, error) {
	return c.search(ctx, c.summaryCollection, queryVector, limit, scope, domain.SourceSummary)
}

func (c *Client) search(
	ctx context.Context,
	collection string,
	queryVector []float32,
	limit int,
	scope domain.Scope,
	source domain.SourceType,
) ([]domain.SearchResult, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := scopeFilter(scope); filter != nil {
		reqBody["filter"] = filter
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return nil, fmt.Errorf("qdrant search status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant search status: %s", resp.Status)
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.SearchResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "point_ref")
		if id == "" {
			id = fmt.Sprintf("%v", r.ID)
		}
		out = append(out, domain.SearchResult{
			ID:         id,
			Content:    getStringPayload(r.Payload, "text"),
			Score:      r.Score,
			SourceType: source,
			Metadata: map[string]string{
				"document_id": getStringPayload(r.Payload, "doc_id"),
				"title":       getStringPayload(r.Payload, "title"),
			},
		})
	}
	return out, nil
}

// scopeFilter maps the query scope onto payload conditions. Library points
// carry global=true; case points carry their case_id.
func scopeFilter(scope domain.Scope) map[string]any {
	caseCond := map[string]any{
		"key":   "case_id",
		"match": map[string]any{"value": scope.CaseID},
	}
	globalCond := map[string]any{
		"key":   "global",
		"match": map[string]any{"value": true},
	}

	switch {
	case scope.CaseID != "" && scope.IncludeGlobal:
		return map[string]any{"should": []map[string]any{caseCond, globalCond}}
	case scope.CaseID != "":
		return map[string]any{"must": []map[string]any{caseCond}}
	default:
		return map[string]any{"must": []map[string]any{globalCond}}
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
