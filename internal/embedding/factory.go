package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backend names accepted by NewLoader.
const (
	BackendHash   = "hash"
	BackendONNX   = "onnx"
	BackendOllama = "ollama"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Model         string
	ModelPath     string
	TokenizerPath string
	Dimensions    int
	MaxTokens     int
	BaseURL       string
	Timeout       time.Duration
}

// NewLoader returns the Loader for opts.Backend. Nothing is loaded until the Loader runs.
func NewLoader(opts Options) (Loader, error) {
	switch opts.Backend {
	case BackendHash, "":
		return func(context.Context) (Embedder, error) {
			return NewHashEmbedder(opts.Dimensions), nil
		}, nil
	case BackendONNX:
		return func(context.Context) (Embedder, error) {
			if err := checkONNXFiles(opts); err != nil {
				return nil, err
			}
			return NewONNXEmbedder(ONNXConfig{
				ModelPath:     opts.ModelPath,
				TokenizerPath: opts.TokenizerPath,
				Dimensions:    opts.Dimensions,
				MaxTokens:     opts.MaxTokens,
			})
		}, nil
	case BackendOllama:
		return func(ctx context.Context) (Embedder, error) {
			e := NewOllamaEmbedder(OllamaConfig{
				BaseURL:    opts.BaseURL,
				Model:      opts.Model,
				Timeout:    opts.Timeout,
				Dimensions: opts.Dimensions,
			})
			if err := e.Ping(ctx); err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hash, onnx, ollama)", opts.Backend)
	}
}

// checkONNXFiles reports every missing model file with the place it should be downloaded to.
func checkONNXFiles(opts Options) error {
	var errs []error
	for _, f := range []struct{ kind, path string }{
		{"model", opts.ModelPath},
		{"tokenizer", opts.TokenizerPath},
	} {
		if f.path == "" {
			errs = append(errs, fmt.Errorf("onnx: %s path not configured", f.kind))
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			errs = append(errs, fmt.Errorf("onnx: %s file %s not found; export %s to ONNX (e.g. optimum-cli export onnx) and place model.onnx and tokenizer.json in %s",
				f.kind, f.path, opts.Model, filepath.Dir(f.path)))
		}
	}
	return errors.Join(errs...)
}
