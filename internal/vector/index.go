// Package vector provides exact inner-product indexes over unit-normalized embeddings.
// Vectors are addressed by their insertion position, starting at 0.
package vector

import "context"

// VectorIndex stores vectors by position and answers exact top-k inner-product searches.
type VectorIndex interface {
	// Add appends vectors; the first gets position Size() before the call.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns exactly k hits ordered by descending score. Slots beyond the number of
	// stored vectors carry ID -1.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Save(path string) error
	Load(path string) error
	Dimensions() int
	Size() int
	Type() string
	Close() error
}

// Hit is one search slot. ID is the vector position, or -1 for an unfilled slot.
type Hit struct {
	ID    int64
	Score float64
}

// Valid reports whether the slot refers to a stored vector.
func (h Hit) Valid() bool {
	return h.ID >= 0
}
