package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/lexrag/query-engine/internal/config"
	"github.com/lexrag/query-engine/internal/core/ports"
	"github.com/lexrag/query-engine/internal/core/usecase"
	"github.com/lexrag/query-engine/internal/infrastructure/llm/ollama"
	"github.com/lexrag/query-engine/internal/infrastructure/queue/nats"
	"github.com/lexrag/query-engine/internal/infrastructure/repository/postgres"
	"github.com/lexrag/query-engine/internal/infrastructure/resilience"
	"github.com/lexrag/query-engine/internal/infrastructure/vector/qdrant"
	"github.com/lexrag/query-engine/internal/observability/metrics"
)

type App struct {
	Config config.Config

	QueryRouter ports.QueryRouter
	Metrics     *metrics.ServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	corpus := postgres.NewCorpusRepository(db)
	if err := corpus.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure corpus schema: %w", err)
	}
	cache := postgres.NewCacheRepository(db)
	if err := cache.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init analysis queue: %w", err)
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		GenerateRPS:        cfg.OllamaGenerateRPS,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	completion := ollama.NewCompletionClient(ollamaClient)

	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantPassagesCollection, cfg.QdrantSummariesCollection)

	patterns, err := config.LoadPatterns(cfg.ClassifierPatternsPath)
	if err != nil {
		return nil, fmt.Errorf("load classifier patterns: %w", err)
	}
	classifier := usecase.NewClassifier(patterns, completion, time.Duration(cfg.IntentHintTimeoutSeconds)*time.Second)
	synthesizer := usecase.NewSynthesizer(completion, 0, 0)

	serverMetrics := metrics.NewServerMetrics("query-engine-api")

	router := usecase.NewRouterUseCase(
		classifier,
		synthesizer,
		embedder,
		vectorIndex,
		corpus,
		cache,
		queue,
		serverMetrics,
		usecase.Limits{
			TopSources:         cfg.RouterTopSources,
			RRFK:               float64(cfg.RouterRRFK),
			SemanticWeight:     cfg.RouterSemanticWeight,
			KeywordWeight:      cfg.RouterKeywordWeight,
			RetrieverTimeout:   time.Duration(cfg.RetrieverTimeoutSeconds) * time.Second,
			CompletionTimeout:  time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
			CacheTTL:           time.Duration(cfg.CacheTTLHours) * time.Hour,
			CacheMinConfidence: cfg.CacheMinConfidence,
			SummaryPassages:    cfg.SummaryPassages,
		},
	)

	return &App{
		Config:      cfg,
		QueryRouter: router,
		Metrics:     serverMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
