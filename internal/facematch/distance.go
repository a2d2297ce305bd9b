package facematch

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxDistance is the largest possible cosine distance (opposite vectors).
const MaxDistance = 2.0

// ErrDimensionMismatch is returned when two embeddings have different lengths.
// It indicates a caller error (e.g. a model change without re-embedding), never a non-match.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedding is a face feature vector produced by the embedding provider.
type Embedding []float64

// Validate checks that the embedding is non-empty and every component is finite.
func (e Embedding) Validate() error {
	if len(e) == 0 {
		return errors.New("empty embedding")
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("component %d is not finite", i)
		}
	}
	return nil
}

// Float32 converts the embedding for float32 consumers (pgvector, HNSW graph).
func (e Embedding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// FromFloat32 converts a float32 vector back into an Embedding.
func FromFloat32(v []float32) Embedding {
	out := make(Embedding, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// CosineDistance computes 1 - cosine similarity, in [0, 2].
// Zero vectors are treated as maximally distant.
func CosineDistance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return MaxDistance, nil
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return MaxDistance, nil
	}

	similarity := floats.Dot(a, b) / (normA * normB)
	// Clamp to [-1, 1] to absorb floating point error.
	similarity = math.Max(-1, math.Min(1, similarity))

	return 1 - similarity, nil
}
