// Package config loads the dalil configuration file, .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/dalil/internal/models"
)

// Environment overrides, applied after the file and defaults.
const (
	EnvEmbedModel = "EMBED_MODEL"
	EnvTopK       = "DALIL_TOP_K"
	EnvOllamaURL  = "DALIL_OLLAMA_URL"
	EnvDebug      = "DALIL_DEBUG"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings. RateLimit is requests per second; zero disables limiting.
type ServerConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds every on-disk location.
type StorageConfig struct {
	RawDir         string `yaml:"raw_dir"`
	IndexDir       string `yaml:"index_dir"`
	DatabasePath   string `yaml:"database_path"`
	EventLogPath   string `yaml:"event_log_path"`
	EvalReportPath string `yaml:"eval_report_path"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	ModelPath     string        `yaml:"model_path"`
	TokenizerPath string        `yaml:"tokenizer_path"`
	Dimensions    int           `yaml:"dimensions"`
	MaxTokens     int           `yaml:"max_tokens"`
	CacheSize     int           `yaml:"cache_size"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds chunking and search settings.
type RetrievalConfig struct {
	TopK         int      `yaml:"top_k"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Extensions   []string `yaml:"extensions"`
	IndexType    string   `yaml:"index_type"`
}

// GenerationConfig selects the optional local language model. Provider "none" disables it.
type GenerationConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WatchConfig controls re-ingestion on raw directory changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads the config file at path, applies defaults, expands paths relative to the
// config directory, loads a .env file next to it when present and applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// LoadOrDefault behaves like Load, but a missing file yields the defaults with
// paths relative to the working directory.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, baseDir string) (*Config, error) {
	ApplyDefaults(cfg)
	cfg.expandPaths(baseDir)

	envFile := filepath.Join(baseDir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths(baseDir string) {
	c.Storage.RawDir = expandPath(c.Storage.RawDir, baseDir)
	c.Storage.IndexDir = expandPath(c.Storage.IndexDir, baseDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, baseDir)
	c.Storage.EventLogPath = expandPath(c.Storage.EventLogPath, baseDir)
	c.Storage.EvalReportPath = expandPath(c.Storage.EvalReportPath, baseDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, baseDir)
	}
	if c.Embedding.TokenizerPath != "" {
		c.Embedding.TokenizerPath = expandPath(c.Embedding.TokenizerPath, baseDir)
	}
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvEmbedModel)); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTopK)); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", models.ErrInvalidArgument, EnvTopK, v)
		}
		cfg.Retrieval.TopK = k
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaURL)); v != "" {
		cfg.Generation.BaseURL = v
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebug)); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", models.ErrInvalidArgument, EnvDebug, v)
		}
		cfg.Debug = debug
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath makes path absolute. Relative paths are resolved against baseDir and
// a leading "~/" against the home directory.
func expandPath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
		return path
	}
	return filepath.Join(baseDir, path)
}
