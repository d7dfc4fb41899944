package rank

import (
	"errors"
	"math"
	"testing"

	"github.com/fieldsense/semindex/internal/domain"
)

func TestCosine_SelfSimilarity(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.5, 0.5, 0.5},
		{-3, 2, 7, 0.1},
	}

	for _, v := range vectors {
		sim, err := Cosine(v, v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(sim-1.0) > 1e-9 {
			t.Errorf("Cosine(v, v) = %v, want 1.0", sim)
		}
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	zero := []float32{0, 0, 0}
	other := []float32{1, 2, 3}

	for _, pair := range [][2][]float32{{zero, other}, {other, zero}, {zero, zero}} {
		sim, err := Cosine(pair[0], pair[1])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sim != 0 {
			t.Errorf("Cosine with zero vector = %v, want 0", sim)
		}
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	a := make([]float32, 384)
	b := make([]float32, 512)

	_, err := Cosine(a, b)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestCosine_OppositeVectors(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sim-(-1.0)) > 1e-9 {
		t.Errorf("Cosine(v, -v) = %v, want -1.0", sim)
	}
}

func doc(id string, vec ...float32) domain.DocumentEmbedding {
	return domain.DocumentEmbedding{ID: id, Embedding: vec}
}

func TestBySimilarity_ThresholdAndLimit(t *testing.T) {
	query := []float32{1, 0}
	candidates := []domain.DocumentEmbedding{
		doc("exact", 1, 0),           // sim 1.0
		doc("close", 0.9, 0.1),       // sim ~0.994
		doc("orthogonal", 0, 1),      // sim 0.0
		doc("opposite", -1, 0),       // sim -1.0
		doc("diagonal", 0.7, 0.7),    // sim ~0.707
		doc("slight", 0.55, 0.9),     // sim ~0.52
	}

	results, err := BySimilarity(query, candidates, 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (limit)", len(results))
	}
	if results[0].Document.ID != "exact" || results[1].Document.ID != "close" {
		t.Errorf("got order %s, %s; want exact, close", results[0].Document.ID, results[1].Document.ID)
	}
	for _, r := range results {
		if r.Similarity < 0.5 {
			t.Errorf("result %s has similarity %v below threshold", r.Document.ID, r.Similarity)
		}
	}
}

func TestBySimilarity_DropsBelowThreshold(t *testing.T) {
	query := []float32{1, 0}
	candidates := []domain.DocumentEmbedding{
		doc("orthogonal", 0, 1),
		doc("opposite", -1, 0),
	}

	results, err := BySimilarity(query, candidates, 10, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestBySimilarity_StableTies(t *testing.T) {
	query := []float32{1, 0}
	// Identical vectors tie exactly; candidate order must be preserved.
	candidates := []domain.DocumentEmbedding{
		doc("first", 0.8, 0.6),
		doc("second", 0.8, 0.6),
		doc("third", 0.8, 0.6),
	}

	results, err := BySimilarity(query, candidates, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Document.ID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Document.ID, want)
		}
	}
}

func TestBySimilarity_DimensionMismatch(t *testing.T) {
	_, err := BySimilarity([]float32{1, 0, 0}, []domain.DocumentEmbedding{doc("bad", 1, 0)}, 10, 0)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestBySimilarity_EmptyCandidates(t *testing.T) {
	results, err := BySimilarity([]float32{1, 0}, nil, 10, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}
