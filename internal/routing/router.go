package routing

import (
	"fmt"
	"sort"

	"asahi/internal/domain"
	"asahi/internal/registry"
)

// Router picks a model by quality-per-dollar among the profiles that
// satisfy the request's constraints.
type Router struct {
	registry *registry.Registry
	epsilon  float64 // floor for cost in the score denominator
}

// NewRouter builds a router over the catalog. epsilon guards against
// free models dividing by zero; zero picks the default.
func NewRouter(reg *registry.Registry, epsilon float64) *Router {
	if epsilon <= 0 {
		epsilon = 1e-6
	}
	return &Router{registry: reg, epsilon: epsilon}
}

// Route selects the best model for the constraints. When nothing
// qualifies it falls back to the highest-quality available model and
// says so in the decision.
func (r *Router) Route(c domain.RoutingConstraints) (domain.RoutingDecision, error) {
	if r.registry.Len() == 0 {
		return domain.RoutingDecision{}, domain.E(domain.ErrNoModels, "model catalog is empty")
	}

	candidates := r.registry.Filter(c)
	if len(candidates) == 0 {
		return r.fallback(c)
	}

	best := candidates[0]
	bestScore := r.score(best)
	for _, p := range candidates[1:] {
		s := r.score(p)
		switch {
		case s > bestScore:
			best, bestScore = p, s
		case s == bestScore && p.QualityScore > best.QualityScore:
			best = p
		case s == bestScore && p.QualityScore == best.QualityScore && p.Name < best.Name:
			best = p
		}
	}

	return domain.RoutingDecision{
		Model:                best.Name,
		Score:                bestScore,
		Reason:               fmt.Sprintf("best quality-per-dollar among %d candidates", len(candidates)),
		CandidatesConsidered: len(candidates),
	}, nil
}

// RouteExplicit handles a caller-specified model: validate it, then
// report what the cheaper options would have saved.
func (r *Router) RouteExplicit(model string) (domain.RoutingDecision, error) {
	p, err := r.registry.Get(model)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	if !p.Usable() {
		return domain.RoutingDecision{}, domain.E(domain.ErrModelNotFound,
			fmt.Sprintf("model %q is unavailable", model))
	}

	var alts []domain.Alternative
	for _, other := range r.registry.All() {
		if other.Name == p.Name || !other.Usable() {
			continue
		}
		alts = append(alts, domain.Alternative{
			Model:        other.Name,
			SavingsPer1K: p.AvgCostPer1K() - other.AvgCostPer1K(),
		})
	}
	sort.Slice(alts, func(i, j int) bool {
		if alts[i].SavingsPer1K != alts[j].SavingsPer1K {
			return alts[i].SavingsPer1K > alts[j].SavingsPer1K
		}
		return alts[i].Model < alts[j].Model
	})

	return domain.RoutingDecision{
		Model:                p.Name,
		Score:                r.score(p),
		Reason:               "explicit model override",
		CandidatesConsidered: 1,
		Alternatives:         alts,
	}, nil
}

func (r *Router) score(p domain.ModelProfile) float64 {
	cost := p.AvgCostPer1K()
	if cost < r.epsilon {
		cost = r.epsilon
	}
	return p.QualityScore / cost
}

func (r *Router) fallback(c domain.RoutingConstraints) (domain.RoutingDecision, error) {
	best, ok := r.registry.HighestQualityAvailable()
	if !ok {
		return domain.RoutingDecision{}, domain.E(domain.ErrNoModels, "no models available")
	}
	return domain.RoutingDecision{
		Model:        best.Name,
		Score:        r.score(best),
		Reason:       fmt.Sprintf("fallback to highest quality: no model satisfied %s", r.triggeringConstraint(c)),
		FallbackUsed: true,
	}, nil
}

// triggeringConstraint names the constraint that, alone, eliminated
// every usable model. When several combine, report that.
func (r *Router) triggeringConstraint(c domain.RoutingConstraints) string {
	usable := r.registry.Filter(domain.RoutingConstraints{})
	if len(usable) == 0 {
		return "availability"
	}
	if len(r.registry.Filter(domain.RoutingConstraints{MinQuality: c.MinQuality})) == 0 {
		return fmt.Sprintf("min_quality=%.1f", c.MinQuality)
	}
	if len(r.registry.Filter(domain.RoutingConstraints{MaxLatencyMs: c.MaxLatencyMs})) == 0 {
		return fmt.Sprintf("max_latency_ms=%.0f", c.MaxLatencyMs)
	}
	if len(r.registry.Filter(domain.RoutingConstraints{MaxCostPerRequest: c.MaxCostPerRequest})) == 0 {
		return fmt.Sprintf("max_cost_per_request=%.6f", c.MaxCostPerRequest)
	}
	return "combined constraints"
}
