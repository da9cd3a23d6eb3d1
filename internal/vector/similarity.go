package vector

import (
	"math"
	"sort"
)

// InnerProduct returns the inner product of two vectors, which is their cosine
// similarity when both are unit-normalized. Mismatched lengths score 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func emptyHit() Hit {
	return Hit{ID: -1, Score: math.Inf(-1)}
}

// sortHits orders hits by descending score, then ascending position, with
// unfilled slots last.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID >= 0 && (hits[j].ID < 0 || hits[i].ID < hits[j].ID)
	})
}
