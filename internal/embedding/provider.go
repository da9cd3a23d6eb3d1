package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/pkg/utils"
)

// DefaultLoadTimeout bounds a single backend load.
const DefaultLoadTimeout = 2 * time.Minute

// Loader constructs the backend embedder. It succeeds at most once per Provider.
type Loader func(ctx context.Context) (Embedder, error)

// Provider owns one backend embedder. The backend is loaded on Initialize or first use,
// exactly once even under concurrent callers. The load runs detached from the caller's
// context under its own timeout. A load failure is remembered and returned as
// models.ErrProviderUnavailable on every later call, except a load timeout, which the
// next caller retries. Returned vectors are unit length.
type Provider struct {
	name        string
	load        Loader
	cache       *EmbeddingCache
	logger      *zap.Logger
	loadTimeout time.Duration

	mu       sync.Mutex
	loaded   bool
	embedder Embedder
	initErr  error
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithCache enables an LRU cache of the given capacity for single-text embeddings.
func WithCache(capacity int) ProviderOption {
	return func(p *Provider) { p.cache = NewEmbeddingCache(capacity) }
}

// WithLogger sets a logger for initialization events.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithLoadTimeout bounds each backend load attempt.
func WithLoadTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.loadTimeout = d
		}
	}
}

// NewProvider returns a provider that will load its backend with load. name identifies
// the backend in logs and status output.
func NewProvider(name string, load Loader, opts ...ProviderOption) *Provider {
	p := &Provider{name: name, load: load, logger: zap.NewNop(), loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewStaticProvider wraps an already constructed embedder.
func NewStaticProvider(name string, e Embedder, opts ...ProviderOption) *Provider {
	return NewProvider(name, func(context.Context) (Embedder, error) { return e, nil }, opts...)
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return p.name
}

// Initialize loads the backend once. Later calls return the result of the first
// completed load. Cancelling ctx does not abort a load in progress.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.initErr
	}

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
	defer cancel()
	e, err := p.load(loadCtx)
	if err == nil && e == nil {
		err = errors.New("no embedder")
	}
	if err != nil {
		wrapped := fmt.Errorf("%w: load %s: %v", models.ErrProviderUnavailable, p.name, err)
		if loadCtx.Err() != nil {
			p.logger.Warn("embedding provider load timed out", zap.String("provider", p.name), zap.Duration("timeout", p.loadTimeout), zap.Error(err))
			return wrapped
		}
		p.loaded, p.initErr = true, wrapped
		p.logger.Error("embedding provider failed to initialize", zap.String("provider", p.name), zap.Error(err))
		return wrapped
	}

	p.loaded, p.embedder = true, e
	p.logger.Debug("embedding provider initialized", zap.String("provider", p.name), zap.Int("dimensions", e.Dimensions()))
	return nil
}

// Embed returns the unit-normalized embedding of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	if p.cache != nil {
		if v, ok := p.cache.Get(text); ok {
			return v, nil
		}
	}
	v, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrProviderUnavailable, p.name, err)
	}
	if err := p.checkDims(v); err != nil {
		return nil, err
	}
	utils.NormalizeL2(v)
	if p.cache != nil {
		p.cache.Set(text, v)
	}
	return v, nil
}

// EmbedBatch returns unit-normalized embeddings for texts, in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrProviderUnavailable, p.name, err)
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", models.ErrProviderUnavailable, p.name, len(vs), len(texts))
	}
	for _, v := range vs {
		if err := p.checkDims(v); err != nil {
			return nil, err
		}
		utils.NormalizeL2(v)
	}
	return vs, nil
}

func (p *Provider) checkDims(v []float32) error {
	if want := p.embedder.Dimensions(); want > 0 && len(v) != want {
		return fmt.Errorf("%w: %s returned %d dimensions, expected %d", models.ErrProviderUnavailable, p.name, len(v), want)
	}
	return nil
}

// Dimensions initializes the backend if needed and returns its vector size.
func (p *Provider) Dimensions(ctx context.Context) (int, error) {
	if err := p.Initialize(ctx); err != nil {
		return 0, err
	}
	return p.embedder.Dimensions(), nil
}

// Close releases the backend if it was loaded.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedder == nil {
		return nil
	}
	return p.embedder.Close()
}
