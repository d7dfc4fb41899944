// Package rank implements cosine-similarity ranking over embedding
// candidates. Pure, synchronous, no I/O.
package rank

import (
	"fmt"
	"math"
	"sort"

	"github.com/fieldsense/semindex/internal/domain"
)

// Cosine computes the cosine similarity between two vectors:
// dot(a,b) / (||a|| * ||b||), in [-1, 1].
// A zero vector is maximally dissimilar to everything, including itself:
// the result is 0 when either norm is zero, never a division error.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("got %d and %d elements: %w", len(a), len(b), domain.ErrDimensionMismatch)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// BySimilarity scores every candidate against the query vector, drops
// results strictly below threshold, sorts descending by similarity (ties
// keep candidate order), and truncates to limit.
func BySimilarity(
	query []float32, candidates []domain.DocumentEmbedding, limit int, threshold float64,
) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, len(candidates))

	for _, cand := range candidates {
		sim, err := Cosine(query, cand.Embedding)
		if err != nil {
			return nil, fmt.Errorf("score candidate %s: %w", cand.ID, err)
		}
		if sim < threshold {
			continue
		}
		results = append(results, domain.SearchResult{Document: cand, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
