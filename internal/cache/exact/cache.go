// Package exact implements the Tier-1 cache: fingerprint-keyed lookup
// of previously served responses, in memory or on Redis.
package exact

import (
	"context"
	"time"
)

// Entry is one cached response with the accounting needed to credit
// savings on a hit. AccessCount counts hits served from the entry,
// including the Get that returned it.
type Entry struct {
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Model        string    `json:"model"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
	AccessCount  int64     `json:"access_count"`
}

// Stats is a point-in-time snapshot of cache performance.
type Stats struct {
	Hits           int64
	Misses         int64
	HitRate        float64
	EntryCount     int
	TotalCostSaved float64
}

// Store is the Tier-1 cache contract. Lookups never fail the request
// path; backend trouble reads as a miss. Clear reports how many
// entries were removed.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, entry Entry)
	Invalidate(ctx context.Context, key string)
	Clear(ctx context.Context) int
	Stats(ctx context.Context) Stats
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
