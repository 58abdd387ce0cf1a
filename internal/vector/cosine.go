// Package vector provides the similarity primitive used by retrieval.
package vector

import "math"

// Cosine returns the cosine similarity between a and b, in [-1, 1].
//
// It never fails the caller: mismatched dimensions, zero vectors, and any
// non-finite intermediate all map to 0. A zero vector carries no directional
// information, and a dimension mismatch means the embeddings came from
// different models and cannot be compared.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

// Mismatched reports whether two non-empty vectors have different
// dimensions. Callers use this to surface a likely model migration bug to
// the operator, since Cosine silently degrades the pair to 0.
func Mismatched(a, b []float32) bool {
	return len(a) > 0 && len(b) > 0 && len(a) != len(b)
}
