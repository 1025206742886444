package exact

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"asahi/internal/crypto"
)

const redisKeyPrefix = "asahi:exact:"

// RedisStore is the shared Tier-1 backend. Entries are JSON with Redis
// enforcing the TTL; when a sealer is configured the response payload
// is encrypted before it leaves the process. Redis errors are logged
// and surface as misses, never as request failures.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	sealer *crypto.Sealer // nil when governance.encrypt_at_rest is off

	hits      atomic.Int64
	misses    atomic.Int64
	costSaved atomic.Int64 // micro-dollars, to stay atomic
}

// NewRedisStore builds a Redis-backed store. sealer may be nil.
func NewRedisStore(client *redis.Client, ttl time.Duration, sealer *crypto.Sealer) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, sealer: sealer}
}

type redisEntry struct {
	Entry
	Sealed bool `json:"sealed,omitempty"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis cache read failed, treating as miss", "error", err)
		}
		s.misses.Add(1)
		return Entry{}, false
	}

	var re redisEntry
	if err := json.Unmarshal([]byte(raw), &re); err != nil {
		slog.Warn("corrupt cache entry, treating as miss", "key", key, "error", err)
		s.misses.Add(1)
		return Entry{}, false
	}

	re.AccessCount++
	// Write the bumped count back with the payload still sealed; a
	// failed write-back only loses the count, not the hit.
	stored := re

	if re.Sealed {
		if s.sealer == nil {
			slog.Warn("sealed cache entry but encryption is off, treating as miss", "key", key)
			s.misses.Add(1)
			return Entry{}, false
		}
		plaintext, err := s.sealer.Open(re.Response)
		if err != nil {
			slog.Warn("cache entry failed decryption, treating as miss", "key", key, "error", err)
			s.misses.Add(1)
			return Entry{}, false
		}
		re.Response = plaintext
	}

	if payload, err := json.Marshal(stored); err == nil {
		if err := s.client.Set(ctx, redisKeyPrefix+key, payload, redis.KeepTTL).Err(); err != nil {
			slog.Debug("access count write-back failed", "key", key, "error", err)
		}
	}

	s.hits.Add(1)
	s.costSaved.Add(int64(re.CostUSD * 1e6))
	return re.Entry, true
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) {
	re := redisEntry{Entry: entry}
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(entry.Response)
		if err != nil {
			slog.Warn("failed to seal cache entry, skipping write", "key", key, "error", err)
			return
		}
		re.Response = sealed
		re.Sealed = true
	}

	payload, err := json.Marshal(re)
	if err != nil {
		slog.Warn("failed to encode cache entry, skipping write", "key", key, "error", err)
		return
	}

	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, s.ttl).Err(); err != nil {
		slog.Warn("redis cache write failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		slog.Warn("redis cache invalidate failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Clear(ctx context.Context) int {
	removed := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("redis cache clear failed", "key", iter.Val(), "error", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis cache scan failed", "error", err)
	}
	return removed
}

func (s *RedisStore) Stats(ctx context.Context) Stats {
	var count int
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Hits:           hits,
		Misses:         misses,
		HitRate:        hitRate(hits, misses),
		EntryCount:     count,
		TotalCostSaved: float64(s.costSaved.Load()) / 1e6,
	}
}
