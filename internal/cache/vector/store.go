// Package vector provides the similarity store behind the semantic
// cache: a brute-force in-memory implementation for tests and small
// deployments, and a pgvector-backed one for production.
package vector

import (
	"context"
)

// Entry is one stored prompt embedding with its cached payload
// attached as opaque metadata.
type Entry struct {
	ID        string
	Embedding []float32
	Metadata  map[string]string
}

// Match is a query result: the entry plus its cosine similarity to
// the query vector, clamped to [0, 1].
type Match struct {
	Entry      Entry
	Similarity float64
}

// Filter restricts a query to entries whose metadata contains every
// given key/value pair. Nil means no restriction.
type Filter map[string]string

// Store is the similarity store contract. Embeddings are unit vectors;
// implementations rank by cosine similarity, highest first. Upsert and
// Delete take batches and report how many entries they touched.
type Store interface {
	Upsert(ctx context.Context, entries []Entry) (int, error)
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
}

func matchesFilter(meta map[string]string, filter Filter) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// clamp keeps float rounding from pushing a similarity outside [0, 1].
func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
