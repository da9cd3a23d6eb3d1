// Package models defines core data structures for documents, passages, and agent responses.
package models

import "time"

// Document is a loaded raw document after normalization. It is consumed once by the chunker.
type Document struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a passage of a single document. ChunkID is the 0-based ordinal within Source.
type Chunk struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	ChunkID int    `json:"chunk_id"`
}

// IndexedPassage is a persisted metadata record. ID equals the passage's position in the vector index.
type IndexedPassage struct {
	ID      int64  `json:"id"`
	Source  string `json:"source"`
	ChunkID int    `json:"chunk_id"`
	Text    string `json:"text"`
}

// RetrievedResult is a passage returned by retrieval with its cosine score.
type RetrievedResult struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source"`
	ChunkID int     `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// CatalogDocument is the bookkeeping row kept for each ingested source.
type CatalogDocument struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Passages   int       `json:"passages"`
	Bytes      int64     `json:"bytes"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IngestRun records one completed ingestion.
type IngestRun struct {
	Generation string    `json:"generation"`
	Documents  int       `json:"documents"`
	Passages   int       `json:"passages"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
