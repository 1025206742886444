// Package registry holds the immutable model catalog loaded at startup.
package registry

import (
	"fmt"
	"sort"

	"asahi/internal/domain"
)

// Registry is a read-only view over the configured model profiles.
// Built once at startup; safe for concurrent use without locking.
type Registry struct {
	byName map[string]domain.ModelProfile
	names  []string // sorted, for deterministic iteration
}

// New builds a registry from the given profiles. Duplicate names are
// rejected.
func New(profiles []domain.ModelProfile) (*Registry, error) {
	r := &Registry{byName: make(map[string]domain.ModelProfile, len(profiles))}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, domain.E(domain.ErrConfiguration, "model profile with empty name")
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, domain.E(domain.ErrConfiguration, fmt.Sprintf("duplicate model profile %q", p.Name))
		}
		r.byName[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the profile for name.
func (r *Registry) Get(name string) (domain.ModelProfile, error) {
	p, ok := r.byName[name]
	if !ok {
		return domain.ModelProfile{}, domain.E(domain.ErrModelNotFound, fmt.Sprintf("model %q not in catalog", name))
	}
	return p, nil
}

// All returns every profile in name order.
func (r *Registry) All() []domain.ModelProfile {
	out := make([]domain.ModelProfile, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Len reports the catalog size.
func (r *Registry) Len() int { return len(r.names) }

// Filter returns the usable profiles satisfying the constraints, in
// name order. A zero MaxCostPerRequest means cost is unconstrained.
func (r *Registry) Filter(c domain.RoutingConstraints) []domain.ModelProfile {
	var out []domain.ModelProfile
	for _, n := range r.names {
		p := r.byName[n]
		if !p.Usable() {
			continue
		}
		if p.QualityScore < c.MinQuality {
			continue
		}
		if c.MaxLatencyMs > 0 && p.AvgLatencyMs > c.MaxLatencyMs {
			continue
		}
		if c.MaxCostPerRequest > 0 && p.AvgCostPer1K() > c.MaxCostPerRequest {
			continue
		}
		out = append(out, p)
	}
	return out
}

// HighestQualityAvailable returns the usable profile with the best
// quality score, for the router's fallback path. Ties break on name.
func (r *Registry) HighestQualityAvailable() (domain.ModelProfile, bool) {
	var best domain.ModelProfile
	found := false
	for _, n := range r.names {
		p := r.byName[n]
		if !p.Usable() {
			continue
		}
		if !found || p.QualityScore > best.QualityScore {
			best = p
			found = true
		}
	}
	return best, found
}
