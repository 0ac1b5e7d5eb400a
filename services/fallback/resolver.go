package fallback

import (
	"fmt"

	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/registry"
)

// Config controls how chains are derived.
//
// Representatives names the model used for a tier whenever a higher tier
// falls back into it; a tier without an entry uses its first registered
// model. Overrides pins an explicit chain for individual models.
type Config struct {
	Representatives map[models.Tier]string `yaml:"representatives"`
	Overrides       map[string][]string    `yaml:"fallbacks"`
}

// Resolver maps a model id to its ordered fallback chain. Chains are computed
// and validated once at construction.
type Resolver struct {
	registry *registry.Registry
	chains   map[string][]string
}

// NewResolver builds and validates every chain for the registry
func NewResolver(reg *registry.Registry, cfg Config) (*Resolver, error) {
	reps, err := representatives(reg, cfg.Representatives)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		registry: reg,
		chains:   make(map[string][]string, reg.Len()),
	}

	for id := range cfg.Overrides {
		if !reg.Has(id) {
			return nil, fmt.Errorf("fallback override for %q: %w", id, services.UnknownModelError(id))
		}
	}

	for _, m := range reg.AllModels() {
		chain, ok := cfg.Overrides[m.ID]
		if !ok {
			chain = derive(m.Tier, reps)
		}
		chain = append([]string(nil), chain...)
		if err := validateChain(reg, m, chain); err != nil {
			return nil, err
		}
		r.chains[m.ID] = chain
	}

	return r, nil
}

// representatives picks one model per tier
func representatives(reg *registry.Registry, configured map[models.Tier]string) (map[models.Tier]string, error) {
	reps := make(map[models.Tier]string, len(models.TiersDescending))

	for tier, id := range configured {
		if !tier.IsValid() {
			return nil, fmt.Errorf("%w: unknown tier %q in representatives", services.ErrInvalidChain, tier)
		}
		d, err := reg.Describe(id)
		if err != nil {
			return nil, fmt.Errorf("representative for %s: %w", tier, err)
		}
		if d.Tier != tier {
			return nil, fmt.Errorf("%w: representative %q for %s belongs to %s", services.ErrInvalidChain, id, tier, d.Tier)
		}
		reps[tier] = id
	}

	for _, tier := range models.TiersDescending {
		if _, ok := reps[tier]; ok {
			continue
		}
		if members := reg.ByTier(tier); len(members) > 0 {
			reps[tier] = members[0].ID
		}
	}

	if _, ok := reps[models.TierStandard]; !ok {
		return nil, fmt.Errorf("%w: registry has no %s model to fall back to", services.ErrInvalidChain, models.TierStandard)
	}

	return reps, nil
}

// derive builds the default chain for a tier: one representative per strictly
// lower populated tier, most capable first
func derive(tier models.Tier, reps map[models.Tier]string) []string {
	var chain []string
	for _, t := range models.TiersDescending {
		if !t.Below(tier) {
			continue
		}
		if id, ok := reps[t]; ok {
			chain = append(chain, id)
		}
	}
	return chain
}

func validateChain(reg *registry.Registry, start models.ModelDescriptor, chain []string) error {
	if start.Tier == models.TierStandard {
		if len(chain) != 0 {
			return fmt.Errorf("%w: %s model %q cannot fall back", services.ErrInvalidChain, models.TierStandard, start.ID)
		}
		return nil
	}
	if len(chain) == 0 {
		return fmt.Errorf("%w: %q has an empty chain", services.ErrInvalidChain, start.ID)
	}

	prev := start.Tier
	for _, id := range chain {
		if id == start.ID {
			return fmt.Errorf("%w: %q references itself", services.ErrInvalidChain, start.ID)
		}
		d, err := reg.Describe(id)
		if err != nil {
			return fmt.Errorf("chain for %q: %w", start.ID, err)
		}
		if !d.Tier.Below(prev) {
			return fmt.Errorf("%w: %q -> %q does not descend in tier (%s after %s)",
				services.ErrInvalidChain, start.ID, id, d.Tier, prev)
		}
		prev = d.Tier
	}

	if prev != models.TierStandard {
		return fmt.Errorf("%w: chain for %q ends at %s, not %s", services.ErrInvalidChain, start.ID, prev, models.TierStandard)
	}
	return nil
}

// Resolve returns the fallback chain for a model, excluding the model itself
func (r *Resolver) Resolve(id string) ([]string, error) {
	chain, ok := r.chains[id]
	if !ok {
		return nil, services.UnknownModelError(id)
	}
	return append([]string(nil), chain...), nil
}

// Candidates returns the preferred model followed by its chain
func (r *Resolver) Candidates(id string) ([]models.ModelDescriptor, error) {
	chain, ok := r.chains[id]
	if !ok {
		return nil, services.UnknownModelError(id)
	}

	out := make([]models.ModelDescriptor, 0, len(chain)+1)
	for _, cid := range append([]string{id}, chain...) {
		d, err := r.registry.Describe(cid)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
