package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"asahi/internal/cache/vector"
	"asahi/internal/domain"
)

// Embedder is the slice of the embedding client the cache needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Hit is a served Tier-2 entry.
type Hit struct {
	Response   string
	Model      string
	CostUSD    float64
	TaskType   domain.TaskType
	Similarity float64
}

// Service is the Tier-2 cache. Lookups embed the query, pull top-k
// candidates from the similarity store, and admit the first candidate
// passing both the threshold and the economic check.
type Service struct {
	embedder     Embedder
	store        vector.Store
	policy       *AdmissionPolicy
	ttl          time.Duration
	topK         int
	tenantScoped bool

	now func() time.Time
}

// NewService builds a Tier-2 cache.
func NewService(embedder Embedder, store vector.Store, policy *AdmissionPolicy, ttl time.Duration, topK int, tenantScoped bool) *Service {
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		embedder:     embedder,
		store:        store,
		policy:       policy,
		ttl:          ttl,
		topK:         topK,
		tenantScoped: tenantScoped,
		now:          time.Now,
	}
}

// Lookup searches for a reusable response. On a miss the returned
// reason names the best similarity observed. Embedding and store
// failures are recovered as misses so the request can continue to live
// inference.
func (s *Service) Lookup(ctx context.Context, prompt string, task domain.TaskType, sensitivity domain.CostSensitivity, recomputeCost float64, tenantID string) (*Hit, string) {
	embeddingVec, err := s.embedder.EmbedText(ctx, prompt)
	if err != nil {
		slog.Warn("semantic lookup embedding failed, treating as miss", "error", err)
		return nil, "embedding unavailable"
	}

	matches, err := s.store.Query(ctx, embeddingVec, s.topK, s.filter(tenantID))
	if err != nil {
		slog.Warn("similarity store query failed, treating as miss", "error", err)
		return nil, "similarity store unavailable"
	}
	if len(matches) == 0 {
		return nil, "no candidates"
	}

	now := s.now()
	best := 0.0
	for _, m := range matches {
		if m.Similarity > best {
			best = m.Similarity
		}
		if expired(m.Entry.Metadata["expires_at"], now) {
			continue
		}

		entryTask := domain.TaskType(m.Entry.Metadata["task_type"])
		threshold := s.policy.EffectiveThreshold(task, entryTask, sensitivity)
		if m.Similarity < threshold {
			continue
		}
		if !s.policy.ShouldUseCache(m.Similarity, task, recomputeCost) {
			continue
		}

		cost, _ := strconv.ParseFloat(m.Entry.Metadata["cost_usd"], 64)
		return &Hit{
			Response:   m.Entry.Metadata["response"],
			Model:      m.Entry.Metadata["model"],
			CostUSD:    cost,
			TaskType:   entryTask,
			Similarity: m.Similarity,
		}, ""
	}

	return nil, fmt.Sprintf("no candidate admitted (best similarity %.3f)", best)
}

// Insert stores a freshly computed result for future reuse. Failures
// are logged and swallowed; caching is best effort.
func (s *Service) Insert(ctx context.Context, prompt, response, model string, cost float64, task domain.TaskType, tenantID string) {
	embeddingVec, err := s.embedder.EmbedText(ctx, prompt)
	if err != nil {
		slog.Warn("semantic insert embedding failed, skipping", "error", err)
		return
	}

	now := s.now()
	meta := map[string]string{
		"prompt":     prompt,
		"response":   response,
		"model":      model,
		"cost_usd":   strconv.FormatFloat(cost, 'f', -1, 64),
		"task_type":  string(task),
		"created_at": now.Format(time.RFC3339),
		"expires_at": now.Add(s.ttl).Format(time.RFC3339),
	}
	if s.tenantScoped {
		meta["tenant"] = tenantID
	}

	entry := vector.Entry{ID: uuid.NewString(), Embedding: embeddingVec, Metadata: meta}
	if _, err := s.store.Upsert(ctx, []vector.Entry{entry}); err != nil {
		slog.Warn("similarity store upsert failed, skipping", "error", err)
	}
}

// Count reports live entries in the backing store.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Service) filter(tenantID string) vector.Filter {
	if !s.tenantScoped {
		return nil
	}
	return vector.Filter{"tenant": tenantID}
}

func expired(expiresAt string, now time.Time) bool {
	if expiresAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return now.After(t)
}
