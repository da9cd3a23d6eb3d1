// Package storage keeps the ingestion catalog: which sources were ingested,
// how many passages each produced, and the history of ingestion runs.
package storage

import (
	"context"

	"github.com/hyperjump/dalil/internal/models"
)

// Catalog is the document catalog written after every successful ingestion.
type Catalog interface {
	// ReplaceCatalog swaps the full document and passage listing for run in one transaction.
	ReplaceCatalog(ctx context.Context, run models.IngestRun, docs []models.CatalogDocument, passages []models.IndexedPassage) error
	ListDocuments(ctx context.Context, offset, limit int) ([]models.CatalogDocument, error)
	GetDocument(ctx context.Context, id string) (*models.CatalogDocument, error)
	PassagesBySource(ctx context.Context, source string) ([]models.IndexedPassage, error)
	LastRun(ctx context.Context) (*models.IngestRun, error)

	CountDocuments(ctx context.Context) (int64, error)
	CountPassages(ctx context.Context) (int64, error)

	Close() error
}
