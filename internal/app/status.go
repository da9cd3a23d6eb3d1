package app

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/storage"
)

// Status summarizes the catalog, the live corpus and the effective configuration.
type Status struct {
	Documents      int64             `json:"documents"`
	Passages       int64             `json:"passages"`
	Corpus         CorpusStatus      `json:"corpus"`
	LastIngest     *models.IngestRun `json:"last_ingest,omitempty"`
	DiskUsageBytes *int64            `json:"disk_usage_bytes,omitempty"`
	Config         StatusConfig      `json:"config"`
}

// CorpusStatus describes the published corpus generation.
type CorpusStatus struct {
	Generation string    `json:"generation,omitempty"`
	Passages   int       `json:"passages"`
	Dimensions int       `json:"dimensions,omitempty"`
	IndexType  string    `json:"index_type,omitempty"`
	Embedding  string    `json:"embedding,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// StatusConfig echoes the settings that shape retrieval.
type StatusConfig struct {
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	GenerationProvider  string `json:"generation_provider"`
	GenerationModel     string `json:"generation_model"`
	TopK                int    `json:"top_k"`
	ChunkSize           int    `json:"chunk_size"`
	ChunkOverlap        int    `json:"chunk_overlap"`
	IndexType           string `json:"index_type"`
	RawDir              string `json:"raw_dir"`
	IndexDir            string `json:"index_dir"`
	DatabasePath        string `json:"database_path"`
}

// Status collects the current Status. The corpus section is empty before the
// first ingestion.
func (a *App) Status(ctx context.Context) (*Status, error) {
	docs, err := a.Catalog.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	passages, err := a.Catalog.CountPassages(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.Retrieval.Stats(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.Config
	st := &Status{
		Documents: docs,
		Passages:  passages,
		Corpus: CorpusStatus{
			Generation: stats.Generation,
			Passages:   stats.Passages,
			Dimensions: stats.Dimensions,
			IndexType:  stats.IndexType,
			Embedding:  stats.Embedding,
			BuiltAt:    stats.BuiltAt,
		},
		Config: StatusConfig{
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingModel:      cfg.Embedding.Model,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			GenerationProvider:  cfg.Generation.Provider,
			GenerationModel:     a.Generator.Model(),
			TopK:                cfg.Retrieval.TopK,
			ChunkSize:           cfg.Retrieval.ChunkSize,
			ChunkOverlap:        cfg.Retrieval.ChunkOverlap,
			IndexType:           cfg.Retrieval.IndexType,
			RawDir:              cfg.Storage.RawDir,
			IndexDir:            cfg.Storage.IndexDir,
			DatabasePath:        cfg.Storage.DatabasePath,
		},
	}
	run, err := a.Catalog.LastRun(ctx)
	switch {
	case err == nil:
		st.LastIngest = run
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.IndexDir, cfg.Storage.DatabasePath); err == nil {
		st.DiskUsageBytes = &n
	}
	return st, nil
}
