// Package rag persists the passage corpus (vector index plus metadata, one unit keyed by
// passage id) and answers top-k retrieval over it.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/vector"
)

// File names inside a generation directory, and the pointer file naming the live generation.
const (
	CurrentFile  = "CURRENT"
	MetaFile     = "docs_meta.json"
	ManifestFile = "manifest.json"
	genPrefix    = "gen-"
	tmpPrefix    = ".tmp-"
)

// Manifest describes one persisted generation.
type Manifest struct {
	Generation string    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	Passages   int       `json:"passages"`
	Dimensions int       `json:"dimensions"`
	IndexType  string    `json:"index_type"`
	IndexFile  string    `json:"index_file"`
	Embedding  string    `json:"embedding"`
}

// Corpus is a loaded, immutable generation: the vector index and its metadata table.
// Passages[i].ID == i for every i, and Index.Size() == len(Passages).
//
// Readers pin a corpus while searching it. Once superseded, its index is closed when the
// last pin is released.
type Corpus struct {
	Manifest Manifest
	Index    vector.VectorIndex
	Passages []models.IndexedPassage

	mu      sync.Mutex
	pins    int
	retired bool
	closed  bool
}

// acquire pins c. It fails once c has been retired.
func (c *Corpus) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.pins++
	return true
}

// Release drops a pin taken by Service.Snapshot.
func (c *Corpus) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins--
	c.closeIfUnused()
}

// retire marks c as superseded.
func (c *Corpus) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
	c.closeIfUnused()
}

func (c *Corpus) closeIfUnused() {
	if c.retired && c.pins == 0 && !c.closed {
		c.closed = true
		_ = c.Index.Close()
	}
}

// Store publishes corpus generations under one directory. Each build writes a fresh
// generation directory and then atomically replaces CURRENT, so readers see either the
// old or the new complete generation.
type Store struct {
	dir       string
	indexType string
	keep      int
	logger    *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets a logger for publish and prune events.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithRetainedGenerations sets how many superseded generations are kept on disk (default 1).
func WithRetainedGenerations(n int) StoreOption {
	return func(s *Store) { s.keep = n }
}

// NewStore returns a store rooted at dir using the given vector index type.
func NewStore(dir, indexType string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, indexType: indexType, keep: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// GenerationDir returns the directory of a generation.
func (s *Store) GenerationDir(gen string) string {
	return filepath.Join(s.dir, gen)
}

// Current returns the live generation name, or models.ErrNotFound when nothing is published.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CurrentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: no index published in %s", models.ErrNotFound, s.dir)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", CurrentFile, err)
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, genPrefix) || strings.ContainsAny(gen, `/\`) {
		return "", fmt.Errorf("%w: invalid generation name %q", models.ErrCorruptState, gen)
	}
	return gen, nil
}

// Publish persists passages and their vectors as a new generation and makes it current.
// vectors[i] belongs to passages[i], whose ID must be i. An empty passage list withdraws
// the published corpus.
func (s *Store) Publish(ctx context.Context, passages []models.IndexedPassage, vectors [][]float32, embeddingName string) (*Corpus, error) {
	if len(passages) != len(vectors) {
		return nil, fmt.Errorf("%d passages but %d vectors", len(passages), len(vectors))
	}
	for i, p := range passages {
		if p.ID != int64(i) {
			return nil, fmt.Errorf("passage at position %d has id %d", i, p.ID)
		}
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if len(passages) == 0 {
		if err := s.withdraw(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	dims := len(vectors[0])
	idx, err := vector.NewVectorIndex(s.indexType, dims)
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	if err := idx.Add(ctx, vectors); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("add vectors: %w", err)
	}

	id := uuid.NewString()
	gen := genPrefix + id
	tmp := filepath.Join(s.dir, tmpPrefix+id)
	manifest := Manifest{
		Generation: gen,
		CreatedAt:  time.Now().UTC(),
		Passages:   len(passages),
		Dimensions: dims,
		IndexType:  idx.Type(),
		IndexFile:  indexFileName(idx.Type()),
		Embedding:  embeddingName,
	}
	if err := s.writeGeneration(tmp, idx, passages, manifest); err != nil {
		_ = os.RemoveAll(tmp)
		_ = idx.Close()
		return nil, err
	}
	if err := os.Rename(tmp, s.GenerationDir(gen)); err != nil {
		_ = os.RemoveAll(tmp)
		_ = idx.Close()
		return nil, fmt.Errorf("publish generation dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, CurrentFile), []byte(gen+"\n")); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("publish %s: %w", CurrentFile, err)
	}
	s.logger.Debug("corpus generation published", zap.String("generation", gen), zap.Int("passages", len(passages)))
	s.prune(gen)
	return &Corpus{Manifest: manifest, Index: idx, Passages: passages}, nil
}

func (s *Store) writeGeneration(dir string, idx vector.VectorIndex, passages []models.IndexedPassage, m Manifest) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	if err := idx.Save(filepath.Join(dir, m.IndexFile)); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	meta, err := json.MarshalIndent(passages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, MetaFile), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	man, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, ManifestFile), man); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads a generation and checks that index and metadata agree on the id space.
func (s *Store) Load(ctx context.Context, gen string) (*Corpus, error) {
	dir := s.GenerationDir(gen)
	manData, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest of %s: %v", models.ErrCorruptState, gen, err)
	}
	var m Manifest
	if err := json.Unmarshal(manData, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest of %s: %v", models.ErrCorruptState, gen, err)
	}
	metaData, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata of %s: %v", models.ErrCorruptState, gen, err)
	}
	var passages []models.IndexedPassage
	dec := json.NewDecoder(bytes.NewReader(metaData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&passages); err != nil {
		return nil, fmt.Errorf("%w: parse metadata of %s: %v", models.ErrCorruptState, gen, err)
	}
	idx, err := vector.NewVectorIndex(m.IndexType, m.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: open vector index of %s: %v", models.ErrCorruptState, gen, err)
	}
	if err := idx.Load(filepath.Join(dir, m.IndexFile)); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: load vector index of %s: %v", models.ErrCorruptState, gen, err)
	}
	if idx.Size() != len(passages) || m.Passages != len(passages) {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: %s has %d vectors and %d metadata records (manifest says %d)",
			models.ErrCorruptState, gen, idx.Size(), len(passages), m.Passages)
	}
	for i, p := range passages {
		if p.ID != int64(i) {
			_ = idx.Close()
			return nil, fmt.Errorf("%w: %s metadata record %d has id %d", models.ErrCorruptState, gen, i, p.ID)
		}
	}
	return &Corpus{Manifest: m, Index: idx, Passages: passages}, nil
}

// withdraw removes CURRENT so later loads report NotFound, then prunes every generation.
func (s *Store) withdraw() error {
	err := os.Remove(filepath.Join(s.dir, CurrentFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("withdraw %s: %w", CurrentFile, err)
	}
	s.logger.Debug("corpus withdrawn", zap.String("dir", s.dir))
	s.prune("")
	return nil
}

// prune removes stale temporaries and all but the newest s.keep superseded generations.
func (s *Store) prune(current string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	type genDir struct {
		name string
		mod  time.Time
	}
	var old []genDir
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == current {
			continue
		}
		if strings.HasPrefix(name, tmpPrefix) {
			if info, err := e.Info(); err == nil && time.Since(info.ModTime()) > time.Hour {
				_ = os.RemoveAll(filepath.Join(s.dir, name))
			}
			continue
		}
		if !strings.HasPrefix(name, genPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		old = append(old, genDir{name: name, mod: info.ModTime()})
	}
	sort.Slice(old, func(i, j int) bool { return old[i].mod.After(old[j].mod) })
	keep := s.keep
	if current == "" {
		keep = 0
	}
	for i, g := range old {
		if i < keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, g.name)); err != nil {
			s.logger.Warn("failed to prune corpus generation", zap.String("generation", g.name), zap.Error(err))
		}
	}
}

func indexFileName(indexType string) string {
	if indexType == string(vector.IndexTypeFAISS) {
		return "docs.faiss"
	}
	return "docs.index"
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeFileAtomic writes data to a sibling temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
