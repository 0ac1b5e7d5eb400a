package registry

import (
	"errors"
	"fmt"

	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/utils"
)

var (
	// ErrEmptyRegistry is returned when no models are supplied
	ErrEmptyRegistry = errors.New("registry must contain at least one model")

	// ErrDuplicateModel is returned when two descriptors share an id
	ErrDuplicateModel = errors.New("duplicate model id")
)

// Registry holds the validated set of routable models. It is read-only after
// construction and safe for concurrent use without locking.
type Registry struct {
	models []models.ModelDescriptor
	byID   map[string]int
}

// New validates the descriptors and builds a registry preserving their order
func New(descriptors []models.ModelDescriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{
		models: make([]models.ModelDescriptor, 0, len(descriptors)),
		byID:   make(map[string]int, len(descriptors)),
	}

	for i, d := range descriptors {
		if err := utils.ValidateStruct(d); err != nil {
			return nil, fmt.Errorf("model #%d (%q): %w", i, d.ID, err)
		}
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, d.ID)
		}
		r.byID[d.ID] = len(r.models)
		r.models = append(r.models, d)
	}

	return r, nil
}

// Describe returns the descriptor for a model id
func (r *Registry) Describe(id string) (models.ModelDescriptor, error) {
	idx, ok := r.byID[id]
	if !ok {
		return models.ModelDescriptor{}, services.UnknownModelError(id)
	}
	return r.models[idx], nil
}

// Has reports whether the id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// AllModels returns every descriptor in insertion order
func (r *Registry) AllModels() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// ByTier returns the descriptors of one tier in insertion order
func (r *Registry) ByTier(tier models.Tier) []models.ModelDescriptor {
	var out []models.ModelDescriptor
	for _, m := range r.models {
		if m.Tier == tier {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of registered models
func (r *Registry) Len() int {
	return len(r.models)
}
