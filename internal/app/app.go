// Package app wires the configured components into a running tutor.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/assistant"
	"github.com/bull/sinhala-tutor-rag/internal/config"
	"github.com/bull/sinhala-tutor-rag/internal/embedding"
	"github.com/bull/sinhala-tutor-rag/internal/extract"
	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/github"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
	"github.com/bull/sinhala-tutor-rag/internal/intent"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
	"github.com/bull/sinhala-tutor-rag/internal/recorder"
	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
	"github.com/bull/sinhala-tutor-rag/internal/safety"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

// ErrLLMNotConfigured is returned by the generator when no API key is set.
var ErrLLMNotConfigured = errors.New("llm api key not configured")

// App owns every long-lived component.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     storage.Store
	Embedder  embedding.Provider
	Extractor *extract.Registry
	Blobs     *extract.Mux
	GitHub    *github.Client
	Pipeline  *indexer.Pipeline
	Retriever *retrieval.Retriever
	Auditor   *safety.Auditor
	Assistant *assistant.Service

	closers []func() error
}

// New builds the application from cfg. On error every component opened
// so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if a.Store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	var llm *embedding.Client
	if cfg.LLM.APIKey != "" {
		if llm, err = embedding.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL); err != nil {
			return nil, err
		}
	}

	base, err := newEmbedder(cfg.Embedding, llm, logger)
	if err != nil {
		return nil, err
	}
	a.Embedder = base

	// Query and anchor embeddings go through the cache; ingestion does not.
	queryEmbedder := base
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, rdb.Close)
		queryEmbedder = embedding.NewCachedProvider(base, rdb, cfg.Embedding.CacheTTL, logger)
	}

	if a.Extractor, err = a.newExtractor(ctx); err != nil {
		return nil, err
	}

	if a.GitHub, err = github.NewClient(cfg.GitHub.Token); err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	a.Blobs = extract.NewMux(extract.FileStore{})
	a.Blobs.Handle("file", extract.FileStore{})
	a.Blobs.Handle(github.Scheme, github.NewStore(a.GitHub))

	a.Pipeline = indexer.NewPipeline(a.Store, a.Blobs, a.Extractor, base, indexer.Options{
		MaxTokens:           cfg.Chunker.MaxTokens,
		OverlapTokens:       cfg.Chunker.OverlapTokens,
		PseudoQuestions:     cfg.Chunker.PseudoQuestions,
		DocumentPrefixChars: cfg.Embedding.DocumentPrefixChars,
		ExtractTimeout:      cfg.Timeouts.Extract,
		EmbedTimeout:        cfg.Timeouts.Embed,
	}, a.Metrics, logger.Named("indexer"))

	var reranker retrieval.CrossEncoder
	if cfg.Retrieval.RerankerModel != "" {
		cr, err := retrieval.NewCohereReranker(cfg.Cohere.APIKey, cfg.Retrieval.RerankerModel)
		if err != nil {
			return nil, fmt.Errorf("reranker: %w", err)
		}
		reranker = cr
	}
	a.Retriever = retrieval.NewRetriever(a.Store, retrieval.Options{
		Reranker:      reranker,
		VectorTimeout: cfg.Timeouts.Vector,
		RerankTimeout: cfg.Timeouts.Rerank,
		Metrics:       a.Metrics,
	}, logger.Named("retrieval"))

	a.Auditor = safety.NewAuditor(SafetyConfig(cfg.Safety), a.Store, logger.Named("safety"))

	a.Assistant = assistant.New(assistant.Deps{
		Store:     a.Store,
		Embedder:  queryEmbedder,
		Router:    intent.NewRouter(queryEmbedder, cfg.Intent.SemanticThreshold, nil, logger.Named("intent")),
		Retriever: a.Retriever,
		Generator: newGenerator(cfg.LLM, llm, logger),
		Recorder:  recorder.New(a.Store, logger.Named("recorder")),
		Auditor:   a.Auditor,
		Metrics:   a.Metrics,
	}, assistant.Options{
		Params: retrieval.Params{
			TopDocK:       cfg.Retrieval.TopDocK,
			BM25K:         cfg.Retrieval.BM25K,
			FinalK:        cfg.Retrieval.FinalK,
			CandidatePool: cfg.Retrieval.CandidatePool,
		},
		Widening: intent.Widening{
			SummaryFinalK:   cfg.Retrieval.SummaryFinalK,
			GenerateTopDocK: cfg.Retrieval.GenerateTopDocK,
			GenerateFinalK:  cfg.Retrieval.GenerateFinalK,
		},
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		EmbedTimeout:    cfg.Timeouts.Embed,
		LLMTimeout:      cfg.Timeouts.LLM,
	}, logger.Named("assistant"))

	logger.Info("Application ready",
		zap.String("database", cfg.Database.Driver),
		zap.Bool("qdrant", cfg.Qdrant.Enabled),
		zap.String("embedding_model", base.ModelTag()),
		zap.Bool("reranker", reranker != nil),
		zap.Bool("google", cfg.Google.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled))
	return a, nil
}

// SafetyConfig converts the configured thresholds.
func SafetyConfig(c config.SafetyConfig) safety.Config {
	return safety.Config{
		HighThreshold:      c.HighThreshold,
		MediumThreshold:    c.MediumThreshold,
		LowThreshold:       c.LowThreshold,
		PenaltyDenominator: c.PenaltyDenominator,
		FlagWeight:         c.FlagWeight,
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.Database.Driver == "memory" {
		return storage.NewMemoryStore(), nil
	}
	db, err := storage.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}

	var index storage.VectorIndex
	if cfg.Qdrant.Enabled {
		q, err := storage.NewQdrantIndex(ctx, storage.QdrantConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			APIKey:           cfg.Qdrant.APIKey,
			UseTLS:           cfg.Qdrant.UseTLS,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
		}, logger.Named("qdrant"))
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		index = q
	}
	return storage.NewSQLStore(db, index, logger.Named("store")), nil
}

func newEmbedder(cfg config.EmbeddingConfig, client *embedding.Client, logger *zap.Logger) (embedding.Provider, error) {
	switch cfg.Provider {
	case "hashing":
		return embedding.NewHashingEmbedder(cfg.Dimension), nil
	case "openai":
		if client == nil {
			return nil, fmt.Errorf("embedding provider openai: %w", ErrLLMNotConfigured)
		}
		return embedding.NewOpenAIEmbedder(client, cfg.ModelTag, cfg.Dimension, cfg.BatchSize, logger.Named("embedding")), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func newGenerator(cfg config.LLMConfig, client *embedding.Client, logger *zap.Logger) generation.Generator {
	if client == nil {
		return generation.GeneratorFunc(func(context.Context, generation.Envelope) (*generation.Generation, error) {
			return nil, ErrLLMNotConfigured
		})
	}
	return generation.NewOpenAIGenerator(client, cfg.Model, cfg.Temperature, cfg.MaxTokens, logger.Named("generation"))
}

// newExtractor registers the text extractors and, when Google is enabled,
// Vision OCR for images and Speech-to-Text for audio.
func (a *App) newExtractor(ctx context.Context) (*extract.Registry, error) {
	reg := extract.NewRegistry()
	if !a.Config.Google.Enabled {
		return reg, nil
	}
	opts := extract.GoogleOptions(a.Config.Google.CredentialsFile)

	ocr, err := extract.NewVisionOCR(ctx, a.Logger.Named("vision"), opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	a.closers = append(a.closers, ocr.Close)
	reg.Register("image/*", ocr)

	asr, err := extract.NewSpeechASR(ctx, a.Config.Google.SpeechLanguage, a.Logger.Named("speech"), opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	a.closers = append(a.closers, asr.Close)
	reg.Register("audio/*", asr)
	return reg, nil
}

// Health checks the relational store and, when enabled, the vector index.
func (a *App) Health(ctx context.Context) error {
	return a.Store.Health(ctx)
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
