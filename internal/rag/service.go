package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/models"
)

// Observer receives retrieval timings. internal/metrics implements it.
type Observer interface {
	ObserveRetrieval(d time.Duration)
	SetIndexedPassages(n int)
}

// Service builds the persisted corpus from chunks and answers top-k queries against it.
// Builds are serialized; retrievals run concurrently against an immutable snapshot.
type Service struct {
	provider *embedding.Provider
	store    *Store
	logger   *zap.Logger
	observer Observer

	buildMu sync.Mutex
	snapMu  sync.RWMutex
	snap    *Corpus
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for build and load events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithObserver sets a metrics observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// NewService returns a retrieval service over store using provider for embeddings.
func NewService(provider *embedding.Provider, store *Store, opts ...ServiceOption) *Service {
	s := &Service{provider: provider, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the embedding backend. It is safe to call more than once.
func (s *Service) Initialize(ctx context.Context) error {
	return s.provider.Initialize(ctx)
}

// Build embeds every chunk, assigns ids by input position and publishes the result as the
// new corpus, replacing any previous one. An empty input withdraws the corpus.
func (s *Service) Build(ctx context.Context, chunks []models.Chunk) ([]models.IndexedPassage, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	passages := make([]models.IndexedPassage, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = models.IndexedPassage{ID: int64(i), Source: c.Source, ChunkID: c.ChunkID, Text: c.Text}
		texts[i] = c.Text
	}
	vectors, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed passages: %w", err)
	}
	corpus, err := s.store.Publish(ctx, passages, vectors, s.provider.Name())
	if err != nil {
		return nil, fmt.Errorf("publish corpus: %w", err)
	}
	s.swap(corpus)
	if s.observer != nil {
		s.observer.SetIndexedPassages(len(passages))
	}
	s.logger.Info("corpus built", zap.Int("passages", len(passages)))
	return passages, nil
}

// Retrieve returns up to topK passages ordered by descending score, ties by ascending id.
// It fails with ErrInvalidArgument for topK <= 0, ErrNotFound when no corpus is published,
// and ErrCorruptState when a hit has no metadata record.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievedResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidArgument, topK)
	}
	start := time.Now()
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	corpus, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer corpus.Release()
	q, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	k := min(topK, len(corpus.Passages))
	hits, err := corpus.Index.Search(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", corpus.Manifest.Generation, err)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	results := make([]models.RetrievedResult, 0, len(hits))
	for _, h := range hits {
		if !h.Valid() {
			continue
		}
		if h.ID >= int64(len(corpus.Passages)) || corpus.Passages[h.ID].ID != h.ID {
			return nil, fmt.Errorf("%w: index id %d has no metadata record in %s", models.ErrCorruptState, h.ID, corpus.Manifest.Generation)
		}
		p := corpus.Passages[h.ID]
		results = append(results, models.RetrievedResult{
			ID:      p.ID,
			Source:  p.Source,
			ChunkID: p.ChunkID,
			Text:    p.Text,
			Score:   h.Score,
		})
	}
	if s.observer != nil {
		s.observer.ObserveRetrieval(time.Since(start))
	}
	return results, nil
}

// Snapshot returns the live corpus pinned for reading; the caller must Release it. The
// corpus is reloaded when another process or build published a newer generation than the
// cached one. A generation pruned between reading CURRENT and loading it is retried
// against the newer pointer.
func (s *Service) Snapshot(ctx context.Context) (*Corpus, error) {
	var (
		failedGen string
		loadErr   error
	)
	for attempt := 0; attempt < 3; attempt++ {
		gen, err := s.store.Current()
		if err != nil {
			return nil, err
		}
		if gen == failedGen {
			return nil, loadErr
		}
		if cur := s.pinCached(gen); cur != nil {
			return cur, nil
		}

		loaded, err := s.store.Load(ctx, gen)
		if err != nil {
			failedGen, loadErr = gen, err
			continue
		}
		s.logger.Debug("corpus generation loaded", zap.String("generation", gen), zap.Int("passages", len(loaded.Passages)))
		loaded.acquire()
		s.swap(loaded)
		return loaded, nil
	}
	return nil, loadErr
}

// pinCached returns the cached corpus pinned when it is generation gen.
func (s *Service) pinCached(gen string) *Corpus {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.snap == nil || s.snap.Manifest.Generation != gen || !s.snap.acquire() {
		return nil
	}
	return s.snap
}

// swap installs c as the cached snapshot and retires the one it replaces.
func (s *Service) swap(c *Corpus) {
	s.snapMu.Lock()
	old := s.snap
	s.snap = c
	s.snapMu.Unlock()
	if old != nil && old != c {
		old.retire()
	}
}

// Close retires the cached corpus.
func (s *Service) Close() error {
	s.swap(nil)
	return nil
}

// Stats describes the live corpus for status output.
type Stats struct {
	Generation string    `json:"generation,omitempty"`
	Passages   int       `json:"passages"`
	Dimensions int       `json:"dimensions,omitempty"`
	IndexType  string    `json:"index_type,omitempty"`
	Embedding  string    `json:"embedding,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	IndexPath  string    `json:"index_path,omitempty"`
}

// Stats returns the live corpus description; an unpublished corpus yields zero Stats.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	c, err := s.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Stats{}, nil
		}
		return Stats{}, err
	}
	defer c.Release()
	return Stats{
		Generation: c.Manifest.Generation,
		Passages:   len(c.Passages),
		Dimensions: c.Manifest.Dimensions,
		IndexType:  c.Manifest.IndexType,
		Embedding:  c.Manifest.Embedding,
		BuiltAt:    c.Manifest.CreatedAt,
		IndexPath:  filepath.Join(s.store.GenerationDir(c.Manifest.Generation), c.Manifest.IndexFile),
	}, nil
}
