package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/eventlog"
	"github.com/hyperjump/dalil/internal/extract"
	"github.com/hyperjump/dalil/internal/fileid"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/rag"
	"github.com/hyperjump/dalil/internal/storage"
	"github.com/hyperjump/dalil/pkg/utils"
)

// CorpusBuilder replaces the retrieval corpus. *rag.Service implements it.
type CorpusBuilder interface {
	Build(ctx context.Context, chunks []models.Chunk) ([]models.IndexedPassage, error)
	Stats(ctx context.Context) (rag.Stats, error)
}

// IngestObserver receives one call per ingestion run.
type IngestObserver interface {
	ObserveIngest(documents, passages int, d time.Duration, err error)
}

// Ingestor loads the raw directory, chunks every document and rebuilds the corpus.
// Runs are serialized.
type Ingestor struct {
	rawDir    string
	extractor *extract.Extractor
	chunker   *Chunker
	builder   CorpusBuilder
	catalog   storage.Catalog
	sink      eventlog.Sink
	observer  IngestObserver
	logger    *zap.Logger

	mu sync.Mutex
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithCatalog records every run in c.
func WithCatalog(c storage.Catalog) IngestorOption {
	return func(in *Ingestor) { in.catalog = c }
}

// WithSink sets the event sink receiving the Ingest event.
func WithSink(s eventlog.Sink) IngestorOption {
	return func(in *Ingestor) { in.sink = s }
}

// WithObserver sets the metrics observer.
func WithObserver(o IngestObserver) IngestorOption {
	return func(in *Ingestor) { in.observer = o }
}

// WithLogger sets a logger for per-file debug output.
func WithLogger(l *zap.Logger) IngestorOption {
	return func(in *Ingestor) { in.logger = utils.OrNop(l) }
}

// NewIngestor returns an Ingestor reading rawDir.
func NewIngestor(rawDir string, extractor *extract.Extractor, chunker *Chunker, builder CorpusBuilder, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		rawDir:    rawDir,
		extractor: extractor,
		chunker:   chunker,
		builder:   builder,
		sink:      eventlog.Nop{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// RawDir returns the directory the Ingestor reads.
func (in *Ingestor) RawDir() string {
	return in.rawDir
}

// Supports reports whether path would be ingested.
func (in *Ingestor) Supports(path string) bool {
	return in.extractor.Supports(path)
}

type sourceFile struct {
	doc   models.Document
	bytes int64
}

// LoadDocuments reads every supported file under the raw directory in sorted path
// order, normalized, dropping documents whose text is empty. A missing directory
// yields no documents. Files that cannot be extracted are returned in skipped.
func (in *Ingestor) LoadDocuments(ctx context.Context) (docs []models.Document, skipped []string, err error) {
	files, skipped, err := in.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	docs = make([]models.Document, len(files))
	for i, f := range files {
		docs[i] = f.doc
	}
	return docs, skipped, nil
}

func (in *Ingestor) load(ctx context.Context) ([]sourceFile, []string, error) {
	paths, err := in.listFiles()
	if err != nil {
		return nil, nil, err
	}
	var (
		files   []sourceFile
		skipped []string
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		text, err := in.extractor.Extract(path)
		if err != nil {
			in.logger.Warn("Skipping unreadable document", zap.String("path", path), zap.Error(err))
			skipped = append(skipped, path)
			continue
		}
		text = Normalize(text)
		if text == "" {
			in.logger.Debug("Skipping empty document", zap.String("path", path))
			continue
		}
		files = append(files, sourceFile{
			doc:   models.Document{Source: path, Text: text},
			bytes: info.Size(),
		})
	}
	return files, skipped, nil
}

func (in *Ingestor) listFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(in.rawDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == in.rawDir && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || !in.extractor.Supports(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", in.rawDir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Ingest rebuilds the corpus from the raw directory. Chunk ids restart at 0 for each
// document; passage ids are dense across the whole run in document order.
func (in *Ingestor) Ingest(ctx context.Context) (*models.IngestResult, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := time.Now()
	res, err := in.ingest(ctx, start)
	if in.observer != nil {
		docs, chunks := 0, 0
		if res != nil {
			docs, chunks = res.Documents, res.Chunks
		}
		in.observer.ObserveIngest(docs, chunks, time.Since(start), err)
	}
	return res, err
}

func (in *Ingestor) ingest(ctx context.Context, start time.Time) (*models.IngestResult, error) {
	files, skipped, err := in.load(ctx)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	perSource := make([]int, len(files))
	for i, f := range files {
		parts, err := in.chunker.ChunkDocument(f.doc)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", f.doc.Source, err)
		}
		perSource[i] = len(parts)
		chunks = append(chunks, parts...)
		in.logger.Debug("Document chunked", zap.String("source", f.doc.Source), zap.Int("chunks", len(parts)))
	}

	passages, err := in.builder.Build(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("build corpus: %w", err)
	}
	stats, err := in.builder.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read corpus stats: %w", err)
	}

	if in.catalog != nil {
		now := storage.Now()
		docs := make([]models.CatalogDocument, len(files))
		for i, f := range files {
			docs[i] = models.CatalogDocument{
				ID:         fileid.SourceID(f.doc.Source),
				Source:     f.doc.Source,
				Passages:   perSource[i],
				Bytes:      f.bytes,
				IngestedAt: now,
			}
		}
		run := models.IngestRun{
			Generation: stats.Generation,
			Documents:  len(files),
			Passages:   len(passages),
			StartedAt:  start.UTC().Truncate(time.Second),
			FinishedAt: now,
		}
		if err := in.catalog.ReplaceCatalog(ctx, run, docs, passages); err != nil {
			return nil, fmt.Errorf("update catalog: %w", err)
		}
	}

	res := &models.IngestResult{
		Documents: len(files),
		Chunks:    len(chunks),
		IndexPath: stats.IndexPath,
		Skipped:   skipped,
	}
	in.sink.Emit(eventlog.Ingest, map[string]any{
		"documents": res.Documents,
		"chunks":    res.Chunks,
		"index":     res.IndexPath,
	})
	in.logger.Info("Ingestion complete",
		zap.Int("documents", res.Documents),
		zap.Int("chunks", res.Chunks),
		zap.Int("skipped", len(skipped)),
		zap.Duration("took", time.Since(start)))
	return res, nil
}
