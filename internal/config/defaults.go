package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/dalil/internal/extract"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/vector"
)

// Defaults.
const (
	DefaultEmbeddingModel = "paraphrase-multilingual"
	DefaultONNXModel      = "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2"
	DefaultONNXModelDir   = "data/models/paraphrase-multilingual-MiniLM-L12-v2"
	DefaultGenerationURL  = "http://127.0.0.1:11434"
	DefaultChunkSize      = 900
	DefaultChunkOverlap   = 120
)

var (
	embeddingProviders  = []string{"hash", "onnx", "ollama"}
	generationProviders = []string{"none", "ollama"}
	indexTypes          = []string{"memory", "faiss"}
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = max(1, int(cfg.Server.RateLimit))
	}
	if cfg.Storage.RawDir == "" {
		cfg.Storage.RawDir = "data/raw"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "data/index"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "data/catalog.db"
	}
	if cfg.Storage.EventLogPath == "" {
		cfg.Storage.EventLogPath = "reports/run.log"
	}
	if cfg.Storage.EvalReportPath == "" {
		cfg.Storage.EvalReportPath = "reports/evaluation_report.md"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
		if cfg.Embedding.Provider == "onnx" {
			cfg.Embedding.Model = DefaultONNXModel
		}
	}
	if cfg.Embedding.Provider == "onnx" {
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = filepath.Join(DefaultONNXModelDir, "model.onnx")
		}
		if cfg.Embedding.TokenizerPath == "" {
			cfg.Embedding.TokenizerPath = filepath.Join(filepath.Dir(cfg.Embedding.ModelPath), "tokenizer.json")
		}
	}
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider != "ollama" {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = DefaultGenerationURL
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = models.DefaultTopK
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = DefaultChunkSize
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Retrieval.Extensions == nil {
		cfg.Retrieval.Extensions = []string{".txt", ".pdf"}
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "memory"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = DefaultGenerationURL
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.1:8b"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}

// Validate rejects settings the components would refuse at runtime.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, "server.rate_limit must be >= 0")
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.top_k must be > 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.ChunkSize <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.chunk_size must be > 0, got %d", c.Retrieval.ChunkSize))
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		problems = append(problems, fmt.Sprintf("retrieval.chunk_overlap must be in [0, chunk_size), got %d", c.Retrieval.ChunkOverlap))
	}
	if len(c.Retrieval.Extensions) == 0 {
		problems = append(problems, "retrieval.extensions must not be empty")
	}
	for _, ext := range c.Retrieval.Extensions {
		if !oneOf(strings.ToLower(ext), extract.SupportedExtensions()) {
			problems = append(problems, fmt.Sprintf("retrieval.extensions: unsupported %q", ext))
		}
	}
	if !oneOf(c.Retrieval.IndexType, indexTypes) {
		problems = append(problems, fmt.Sprintf("retrieval.index_type %q not in %v", c.Retrieval.IndexType, indexTypes))
	}
	if c.Retrieval.IndexType == string(vector.IndexTypeFAISS) && !faissAvailable() {
		problems = append(problems, "retrieval.index_type faiss requires a build with the faiss tag")
	}
	if !oneOf(c.Embedding.Provider, embeddingProviders) {
		problems = append(problems, fmt.Sprintf("embedding.provider %q not in %v", c.Embedding.Provider, embeddingProviders))
	}
	if c.Embedding.Dimensions < 0 {
		problems = append(problems, "embedding.dimensions must be >= 0")
	}
	if !oneOf(c.Generation.Provider, generationProviders) {
		problems = append(problems, fmt.Sprintf("generation.provider %q not in %v", c.Generation.Provider, generationProviders))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: invalid config: %s", models.ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}

// faissAvailable is swapped in tests.
var faissAvailable = vector.IsFAISSAvailable

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
