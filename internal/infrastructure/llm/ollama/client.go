package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexrag/query-engine/internal/infrastructure/resilience"
)

const maxEmbedChars = 8000

// Client talks to an Ollama server for embeddings and completions.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	// GenerateRPS throttles completion calls; zero disables the limiter.
	GenerateRPS        float64
	GenerateBurst      int
	RequestTimeout     time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options Options) *Client {
	requestTimeout := options.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if options.GenerateRPS > 0 {
		burst := options.GenerateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.GenerateRPS), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    limiter,
		executor:   options.ResilienceExecutor,
	}
}

// Embedder builds query vectors. Oversized input is truncated, not rejected.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxEmbedChars {
		text = text[:maxEmbedChars]
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	call := func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	}
	if err := e.client.execute(ctx, "ollama.embed", call); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, &HTTPStatusError{Operation: "embed", Status: "empty embedding result"}
	}
	return response.Embeddings[0], nil
}

// CompletionClient produces text from a role-based prompt.
type CompletionClient struct {
	client *Client
}

func NewCompletionClient(client *Client) *CompletionClient {
	return &CompletionClient{client: client}
}

func (g *CompletionClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	if g.client.limiter != nil {
		if err := g.client.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	request := map[string]any{
		"model":  g.client.genModel,
		"prompt": userPrompt,
		"stream": false,
		"options": map[string]any{
			"temperature": temperature,
		},
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if maxTokens > 0 {
		options := request["options"].(map[string]any)
		options["num_predict"] = maxTokens
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/generate", request, &response, "generate")
	}
	if err := g.client.execute(ctx, "ollama.generate", call); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor == nil {
		return wrapTemporaryIfNeeded(operation, call(ctx))
	}
	return wrapTemporaryIfNeeded(operation, c.executor.Execute(ctx, operation, call, classifyOllamaError))
}
