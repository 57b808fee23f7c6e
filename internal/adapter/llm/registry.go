package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// Registry holds named LLM providers and picks one per model.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]domain.LLMProvider
	routes          []modelRoute
	defaultProvider string
}

type modelRoute struct {
	prefix   string
	provider string
}

// NewRegistry creates an empty provider registry. modelRoutes maps model
// name prefixes to provider names; the longest matching prefix wins.
// Models matching no route go to defaultProvider.
func NewRegistry(defaultProvider string, modelRoutes map[string]string) *Registry {
	routes := make([]modelRoute, 0, len(modelRoutes))
	for prefix, name := range modelRoutes {
		routes = append(routes, modelRoute{prefix: strings.ToLower(prefix), provider: name})
	}
	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].prefix) != len(routes[j].prefix) {
			return len(routes[i].prefix) > len(routes[j].prefix)
		}
		return routes[i].prefix < routes[j].prefix
	})
	return &Registry{
		providers:       make(map[string]domain.LLMProvider),
		routes:          routes,
		defaultProvider: defaultProvider,
	}
}

// Register adds a provider under its own name. Returns an error if the
// name is already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Resolve implements domain.ProviderResolver. A route whose provider is
// not registered is skipped, so the model falls through to the default.
func (r *Registry) Resolve(model string) (domain.LLMProvider, error) {
	m := strings.ToLower(model)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if !strings.HasPrefix(m, route.prefix) {
			continue
		}
		if p, ok := r.providers[route.provider]; ok {
			return p, nil
		}
	}
	if p, ok := r.providers[r.defaultProvider]; ok {
		return p, nil
	}
	return nil, domain.NewDomainError("Registry.Resolve", domain.ErrProviderNotFound,
		fmt.Sprintf("no provider for model %q", model))
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ domain.ProviderResolver = (*Registry)(nil)
