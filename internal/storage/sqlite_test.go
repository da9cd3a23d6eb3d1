package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/dalil/internal/models"
)

func newCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteCatalog_Replace(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	now := Now()

	run := models.IngestRun{Generation: "gen-a", Documents: 2, Passages: 3, StartedAt: now, FinishedAt: now}
	docs := []models.CatalogDocument{
		{ID: "doc-2", Source: "raw/tax.txt", Passages: 1, Bytes: 40, IngestedAt: now},
		{ID: "doc-1", Source: "raw/cin.txt", Passages: 2, Bytes: 120, IngestedAt: now},
	}
	passages := []models.IndexedPassage{
		{ID: 0, Source: "raw/cin.txt", ChunkID: 0, Text: "un"},
		{ID: 1, Source: "raw/cin.txt", ChunkID: 1, Text: "deux"},
		{ID: 2, Source: "raw/tax.txt", ChunkID: 0, Text: "impôt"},
	}
	if err := c.ReplaceCatalog(ctx, run, docs, passages); err != nil {
		t.Fatal(err)
	}

	list, err := c.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Source != "raw/cin.txt" {
		t.Fatalf("unexpected listing %+v", list)
	}
	if !list[0].IngestedAt.Equal(now) {
		t.Errorf("IngestedAt = %v, want %v", list[0].IngestedAt, now)
	}

	got, err := c.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Passages != 2 || got.Bytes != 120 {
		t.Errorf("got %+v", got)
	}

	ps, err := c.PassagesBySource(ctx, "raw/cin.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[1].Text != "deux" {
		t.Errorf("got %+v", ps)
	}

	// A second run replaces everything.
	later := now.Add(time.Minute)
	run2 := models.IngestRun{Generation: "gen-b", Documents: 1, Passages: 1, StartedAt: later, FinishedAt: later}
	if err := c.ReplaceCatalog(ctx, run2, docs[:1], passages[2:]); err != nil {
		t.Fatal(err)
	}
	nd, _ := c.CountDocuments(ctx)
	np, _ := c.CountPassages(ctx)
	if nd != 1 || np != 1 {
		t.Errorf("counts after replace = %d/%d, want 1/1", nd, np)
	}
	last, err := c.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.Generation != "gen-b" {
		t.Errorf("LastRun generation = %q", last.Generation)
	}
}

func TestSQLiteCatalog_NotFound(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	if _, err := c.GetDocument(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetDocument err = %v", err)
	}
	if _, err := c.LastRun(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("LastRun err = %v", err)
	}
	list, err := c.ListDocuments(ctx, 0, 10)
	if err != nil || len(list) != 0 {
		t.Errorf("ListDocuments = %v, %v", list, err)
	}
}

func TestSQLiteCatalog_RollbackOnFailure(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()
	now := Now()
	run := models.IngestRun{Generation: "g", StartedAt: now, FinishedAt: now}
	ok := []models.CatalogDocument{{ID: "doc-1", Source: "a", IngestedAt: now}}
	if err := c.ReplaceCatalog(ctx, run, ok, nil); err != nil {
		t.Fatal(err)
	}

	dup := []models.CatalogDocument{
		{ID: "doc-2", Source: "b", IngestedAt: now},
		{ID: "doc-2", Source: "c", IngestedAt: now},
	}
	if err := c.ReplaceCatalog(ctx, run, dup, nil); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := c.GetDocument(ctx, "doc-1"); err != nil {
		t.Errorf("previous catalog should survive a failed replace: %v", err)
	}
}
