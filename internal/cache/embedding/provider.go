// Package embedding turns prompts into unit vectors for the semantic
// cache, and owns prompt normalization and fingerprinting.
package embedding

import (
	"context"
	"fmt"
	"math"

	"asahi/internal/domain"
)

// Provider generates embeddings. Implementations must return vectors of
// exactly Dimension() components.
type Provider interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// validateAndNormalize checks the dimension and scales the vector to
// unit length so dot products are cosine similarities. A dimension
// mismatch is a configuration fault, not a transient failure.
func validateAndNormalize(vec []float32, want int) ([]float32, error) {
	if len(vec) != want {
		return nil, domain.E(domain.ErrEmbedding,
			fmt.Sprintf("embedding dimension %d does not match configured %d", len(vec), want))
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, domain.E(domain.ErrEmbedding, "zero embedding vector")
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}
