package exact

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is the in-process Tier-1 backend. Expired entries are
// evicted lazily on access, so EntryCount may briefly overcount.
type MemoryStore struct {
	mu             sync.Mutex
	entries        map[string]memoryEntry
	ttl            time.Duration
	hits           int64
	misses         int64
	totalCostSaved float64

	now func() time.Time // swapped in tests
}

// NewMemoryStore builds an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entries[key]
	if ok && s.now().After(me.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	if !ok {
		s.misses++
		return Entry{}, false
	}

	me.entry.AccessCount++
	s.entries[key] = me

	s.hits++
	s.totalCostSaved += me.entry.CostUSD
	return me.entry, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		slog.Warn("overwriting live cache entry", "key", key, "model", entry.Model)
	}
	s.entries[key] = memoryEntry{entry: entry, expiresAt: s.now().Add(s.ttl)}
}

func (s *MemoryStore) Invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Clear(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.entries)
	s.entries = make(map[string]memoryEntry)
	return removed
}

func (s *MemoryStore) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sweep expired entries so the count reflects live entries only.
	now := s.now()
	for k, me := range s.entries {
		if now.After(me.expiresAt) {
			delete(s.entries, k)
		}
	}

	return Stats{
		Hits:           s.hits,
		Misses:         s.misses,
		HitRate:        hitRate(s.hits, s.misses),
		EntryCount:     len(s.entries),
		TotalCostSaved: s.totalCostSaved,
	}
}
