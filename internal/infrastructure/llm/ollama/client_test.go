package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexrag/query-engine/internal/core/domain"
)

func TestEmbedQueryParsesVector(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen-model", "embed-model"))
	vector, err := embedder.EmbedQuery(context.Background(), "consulta legal")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if gotPath != "/api/embed" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["model"] != "embed-model" {
		t.Fatalf("expected embed model, got %v", gotBody["model"])
	}
	if len(vector) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vector))
	}
}

func TestEmbedQueryTruncatesOversizedInput(t *testing.T) {
	var gotInput string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Input) == 1 {
			gotInput = body.Input[0]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1}}})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	_, err := embedder.EmbedQuery(context.Background(), strings.Repeat("a", maxEmbedChars+500))
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(gotInput) != maxEmbedChars {
		t.Fatalf("expected truncation to %d chars, got %d", maxEmbedChars, len(gotInput))
	}
}

func TestEmbedQueryEmptyResultIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed"))
	if _, err := embedder.EmbedQuery(context.Background(), "texto"); err == nil {
		t.Fatalf("expected error on empty embedding result")
	}
}

func TestCompleteSendsOptionsAndTrims(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "  la respuesta  \n"})
	}))
	defer server.Close()

	completion := NewCompletionClient(New(server.URL, "gen-model", "embed-model"))
	answer, err := completion.Complete(context.Background(), "sistema", "pregunta", 0.3, 1024)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if answer != "la respuesta" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	if gotBody["model"] != "gen-model" || gotBody["system"] != "sistema" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
	options, ok := gotBody["options"].(map[string]any)
	if !ok || options["temperature"] != 0.3 || options["num_predict"] != float64(1024) {
		t.Fatalf("unexpected options: %v", gotBody["options"])
	}
	if gotBody["stream"] != false {
		t.Fatalf("streaming must be disabled")
	}
}

func TestCompleteRetryableStatusIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	completion := NewCompletionClient(New(server.URL, "gen", "embed"))
	_, err := completion.Complete(context.Background(), "", "pregunta", 0.3, 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary for retryable status, got %v", err)
	}
}

func TestCompleteNonRetryableStatusIsNotTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	completion := NewCompletionClient(New(server.URL, "gen", "embed"))
	_, err := completion.Complete(context.Background(), "", "pregunta", 0.3, 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("client errors must not be marked temporary: %v", err)
	}
}
