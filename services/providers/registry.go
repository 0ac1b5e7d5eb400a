package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// NamedDispatcher is a Dispatcher that knows which provider it talks to
type NamedDispatcher interface {
	Dispatcher
	Name() string
}

// Registry manages provider dispatchers and the model to provider mapping.
// It is itself a Dispatcher that forwards each call to the model's provider.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Dispatcher
	modelProviders  map[string]string // model -> provider name
	defaultProvider string            // serves models with no mapping
}

// NewRegistry creates a new provider registry
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		providers:       make(map[string]Dispatcher),
		modelProviders:  make(map[string]string),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers a provider dispatcher under its name
func (r *Registry) RegisterProvider(d NamedDispatcher) error {
	if d == nil {
		return errors.New("provider cannot be nil")
	}

	name := d.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}
	r.providers[name] = d
	return nil
}

// MapModel routes a model to a provider. The provider need not be registered yet.
func (r *Registry) MapModel(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelProviders[model] = provider
}

// GetProvider retrieves a provider by name
func (r *Registry) GetProvider(name string) (Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return d, nil
}

// ProviderFor returns the provider name serving a model
func (r *Registry) ProviderFor(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.modelProviders[model]; ok {
		return name
	}
	return r.defaultProvider
}

// GetProviderForModel finds the dispatcher serving a model
func (r *Registry) GetProviderForModel(model string) (Dispatcher, error) {
	return r.GetProvider(r.ProviderFor(model))
}

// ListProviders returns all registered provider names
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch forwards to the model's provider. A model whose provider is not
// registered fails like any other transport error so the caller can move on.
func (r *Registry) Dispatch(ctx context.Context, modelID, prompt string, opts DispatchOptions) (*Response, error) {
	d, err := r.GetProviderForModel(modelID)
	if err != nil {
		return nil, NewTransportError("registry", "provider_not_configured",
			fmt.Sprintf("no provider configured for model %s", modelID), 0, err)
	}
	return d.Dispatch(ctx, modelID, prompt, opts)
}
