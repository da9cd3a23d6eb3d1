package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/dalil/internal/models"
)

// SQLiteCatalog implements Catalog on SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

var _ Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens or creates the catalog database at dbPath.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL UNIQUE,
		passages INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS passages (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		chunk_id INTEGER NOT NULL,
		text TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source, chunk_id);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		generation TEXT NOT NULL,
		documents INTEGER NOT NULL,
		passages INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceCatalog deletes every document and passage row and inserts the new listing.
func (s *SQLiteCatalog) ReplaceCatalog(ctx context.Context, run models.IngestRun, docs []models.CatalogDocument, passages []models.IndexedPassage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM passages`, `DELETE FROM documents`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear catalog: %w", err)
		}
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, source, passages, bytes, ingested_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer docStmt.Close()
	for _, d := range docs {
		if _, err := docStmt.ExecContext(ctx, d.ID, d.Source, d.Passages, d.Bytes, d.IngestedAt); err != nil {
			return fmt.Errorf("insert document %s: %w", d.Source, err)
		}
	}

	passageStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, source, chunk_id, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer passageStmt.Close()
	for _, p := range passages {
		if _, err := passageStmt.ExecContext(ctx, p.ID, p.Source, p.ChunkID, p.Text); err != nil {
			return fmt.Errorf("insert passage %d: %w", p.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_runs (generation, documents, passages, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		run.Generation, run.Documents, run.Passages, run.StartedAt, run.FinishedAt,
	); err != nil {
		return fmt.Errorf("record ingest run: %w", err)
	}
	return tx.Commit()
}

// ListDocuments returns catalog rows ordered by source.
func (s *SQLiteCatalog) ListDocuments(ctx context.Context, offset, limit int) ([]models.CatalogDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, passages, bytes, ingested_at
		 FROM documents ORDER BY source LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.CatalogDocument{}
	for rows.Next() {
		var d models.CatalogDocument
		if err := rows.Scan(&d.ID, &d.Source, &d.Passages, &d.Bytes, &d.IngestedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument returns one catalog row, or ErrNotFound.
func (s *SQLiteCatalog) GetDocument(ctx context.Context, id string) (*models.CatalogDocument, error) {
	var d models.CatalogDocument
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, passages, bytes, ingested_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Source, &d.Passages, &d.Bytes, &d.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// PassagesBySource returns the passages of one source in chunk order.
func (s *SQLiteCatalog) PassagesBySource(ctx context.Context, source string) ([]models.IndexedPassage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, chunk_id, text FROM passages WHERE source = ? ORDER BY chunk_id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IndexedPassage
	for rows.Next() {
		var p models.IndexedPassage
		if err := rows.Scan(&p.ID, &p.Source, &p.ChunkID, &p.Text); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LastRun returns the most recent ingestion, or ErrNotFound before the first one.
func (s *SQLiteCatalog) LastRun(ctx context.Context) (*models.IngestRun, error) {
	var r models.IngestRun
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, documents, passages, started_at, finished_at
		 FROM ingest_runs ORDER BY seq DESC LIMIT 1`,
	).Scan(&r.Generation, &r.Documents, &r.Passages, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no ingestion recorded", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountDocuments returns the number of catalogued documents.
func (s *SQLiteCatalog) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountPassages returns the number of catalogued passages.
func (s *SQLiteCatalog) CountPassages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}

// Now is the clock used for catalog timestamps. Timestamps are stored in UTC
// at second precision so they round-trip through SQLite unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
