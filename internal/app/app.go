// Package app wires the assistant's components from a Config and exposes the
// operations shared by the CLI, the HTTP API and the watcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/agent"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/evaluation"
	"github.com/hyperjump/dalil/internal/eventlog"
	"github.com/hyperjump/dalil/internal/extract"
	"github.com/hyperjump/dalil/internal/generation"
	"github.com/hyperjump/dalil/internal/indexer"
	"github.com/hyperjump/dalil/internal/langdetect"
	"github.com/hyperjump/dalil/internal/metrics"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/rag"
	"github.com/hyperjump/dalil/internal/safety"
	"github.com/hyperjump/dalil/internal/storage"
	"github.com/hyperjump/dalil/pkg/utils"
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Events    eventlog.Sink
	Provider  *embedding.Provider
	Retrieval *rag.Service
	Catalog   storage.Catalog
	Ingestor  *indexer.Ingestor
	Agent     *agent.Orchestrator
	Generator generation.Provider

	closers []func() error
}

// Option adjusts construction.
type Option func(*options)

type options struct {
	events   eventlog.Sink
	embedder embedding.Embedder
	gen      generation.Provider
}

// WithEventSink replaces the JSONL event log file.
func WithEventSink(s eventlog.Sink) Option {
	return func(o *options) { o.events = s }
}

// WithEmbedder replaces the configured embedding backend.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithGenerator replaces the configured generation provider.
func WithGenerator(g generation.Provider) Option {
	return func(o *options) { o.gen = g }
}

// New builds an App from cfg. The embedding backend is not loaded until Warmup or first use.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger = utils.OrNop(logger)
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	if o.events != nil {
		a.Events = o.events
	} else {
		ev, err := eventlog.Open(cfg.Storage.EventLogPath)
		if err != nil {
			return nil, err
		}
		a.Events = ev
		a.closers = append(a.closers, ev.Close)
	}

	provider, err := newProvider(cfg, logger, o.embedder)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Provider = provider
	a.closers = append(a.closers, provider.Close)

	store := rag.NewStore(cfg.Storage.IndexDir, cfg.Retrieval.IndexType, rag.WithStoreLogger(logger))
	a.Retrieval = rag.NewService(provider, store, rag.WithLogger(logger), rag.WithObserver(a.Metrics))
	a.closers = append(a.closers, a.Retrieval.Close)

	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	a.Catalog = catalog
	a.closers = append(a.closers, catalog.Close)

	extractor, err := extract.NewExtractor(cfg.Retrieval.Extensions...)
	if err != nil {
		a.Close()
		return nil, err
	}
	chunker, err := indexer.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ingestor = indexer.NewIngestor(cfg.Storage.RawDir, extractor, chunker, a.Retrieval,
		indexer.WithCatalog(catalog),
		indexer.WithSink(a.Events),
		indexer.WithObserver(a.Metrics),
		indexer.WithLogger(logger),
	)

	a.Generator = o.gen
	if a.Generator == nil {
		a.Generator = newGenerator(cfg.Generation)
	}
	a.Agent = agent.New(safety.NewClassifier(), a.Retrieval,
		agent.WithGenerator(a.Generator),
		agent.WithDetector(langdetect.New()),
		agent.WithSink(a.Events),
		agent.WithObserver(a.Metrics),
		agent.WithLogger(logger),
	)
	return a, nil
}

func newProvider(cfg *config.Config, logger *zap.Logger, override embedding.Embedder) (*embedding.Provider, error) {
	opts := []embedding.ProviderOption{
		embedding.WithCache(cfg.Embedding.CacheSize),
		embedding.WithLogger(logger),
	}
	if override != nil {
		return embedding.NewStaticProvider(cfg.Embedding.Provider, override, opts...), nil
	}
	load, err := embedding.NewLoader(embedding.Options{
		Backend:    cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		ModelPath:     cfg.Embedding.ModelPath,
		TokenizerPath: cfg.Embedding.TokenizerPath,
		Dimensions:    cfg.Embedding.Dimensions,
		MaxTokens:     cfg.Embedding.MaxTokens,
		BaseURL:       cfg.Embedding.BaseURL,
		Timeout:       cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	name := cfg.Embedding.Provider
	if cfg.Embedding.Provider != embedding.BackendHash {
		name += ":" + cfg.Embedding.Model
	}
	return embedding.NewProvider(name, load, opts...), nil
}

func newGenerator(cfg config.GenerationConfig) generation.Provider {
	if cfg.Provider != "ollama" {
		return generation.Unavailable{}
	}
	return generation.NewOllama(generation.OllamaConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
}

// ModelInfo describes the loaded embedding backend.
type ModelInfo struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Warmup loads the embedding backend and embeds a short test string.
func (a *App) Warmup(ctx context.Context) (*ModelInfo, error) {
	start := time.Now()
	if err := a.Provider.Initialize(ctx); err != nil {
		return nil, err
	}
	v, err := a.Provider.Embed(ctx, "test")
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		Provider:   a.Config.Embedding.Provider,
		Model:      a.Provider.Name(),
		Dimensions: len(v),
		Elapsed:    time.Since(start),
	}
	a.Logger.Info("Embedding model ready",
		zap.String("provider", info.Provider),
		zap.String("model", info.Model),
		zap.Int("dimensions", info.Dimensions),
		zap.Duration("elapsed", info.Elapsed))
	return info, nil
}

// Query answers one request.
func (a *App) Query(ctx context.Context, req models.QueryRequest) (*models.AgentResponse, error) {
	if req.TopK == 0 {
		req.TopK = a.Config.Retrieval.TopK
	}
	return a.Agent.Handle(ctx, req)
}

// Ingest rebuilds the corpus from the raw directory.
func (a *App) Ingest(ctx context.Context) (*models.IngestResult, error) {
	return a.Ingestor.Ingest(ctx)
}

// Evaluate runs the labelled suite with generation disabled and writes the report.
func (a *App) Evaluate(ctx context.Context) (*evaluation.Report, error) {
	runner := evaluation.NewRunner(a.Agent,
		evaluation.WithTopK(a.Config.Retrieval.TopK),
		evaluation.WithLogger(a.Logger),
	)
	report, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := report.WriteFile(a.Config.Storage.EvalReportPath); err != nil {
		return nil, err
	}
	return report, nil
}

// Documents lists the catalogued sources.
func (a *App) Documents(ctx context.Context, offset, limit int) ([]models.CatalogDocument, error) {
	return a.Catalog.ListDocuments(ctx, offset, limit)
}

// Close releases every component, returning the joined errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
