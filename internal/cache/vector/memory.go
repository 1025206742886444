package vector

import (
	"context"
	"sort"
	"sync"

	"asahi/internal/domain"
)

// MemoryStore is a brute-force similarity store. Fine up to a few tens
// of thousands of entries; beyond that use the pgvector store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Upsert(ctx context.Context, entries []Entry) (int, error) {
	for _, e := range entries {
		if e.ID == "" {
			return 0, domain.E(domain.ErrSimilarityStore, "entry id required")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return len(entries), nil
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, e := range s.entries {
		if len(e.Embedding) != len(embedding) {
			continue
		}
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		var dot float64
		for i := range embedding {
			dot += float64(embedding[i]) * float64(e.Embedding[i])
		}
		matches = append(matches, Match{Entry: e, Similarity: clamp(dot)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entry.ID < matches[j].Entry.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
