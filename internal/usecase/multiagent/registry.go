package multiagent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// Registry holds the configured agent descriptors keyed by endpoint path.
// List order is insertion order; replacing a descriptor keeps its slot.
type Registry struct {
	// writeMu orders mutations end to end, store write included, so
	// readers holding mu never wait on storage.
	writeMu sync.Mutex
	mu      sync.RWMutex
	order   []string
	agents  map[string]domain.AgentDescriptor
	aliases map[string]string // lowercase alias -> endpoint path

	taskAliases  map[string]string // configured alias -> endpoint path
	store        domain.AgentStore
	defaultModel string
	now          func() time.Time
	logger       *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAgentStore makes every upsert and remove write through to store.
func WithAgentStore(store domain.AgentStore) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithTaskAliases adds extra task_type words that resolve to endpoint paths,
// e.g. "analyze" -> "/analytics".
func WithTaskAliases(aliases map[string]string) RegistryOption {
	return func(r *Registry) {
		for alias, path := range aliases {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" {
				r.taskAliases[alias] = path
			}
		}
	}
}

// WithDefaultModel sets the model assigned to descriptors that omit one.
func WithDefaultModel(model string) RegistryOption {
	return func(r *Registry) { r.defaultModel = model }
}

// WithClock overrides the time source used for descriptor timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	r := &Registry{
		agents:      make(map[string]domain.AgentDescriptor),
		aliases:     make(map[string]string),
		taskAliases: make(map[string]string),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the registry contents. With a store attached the stored
// descriptors win; seed is written to the store only when it is empty.
// Without a store the seed becomes the registry contents.
func (r *Registry) Load(ctx context.Context, seed []domain.AgentDescriptor) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	descriptors := seed
	if r.store != nil {
		stored, err := r.store.ListAgents(ctx)
		if err != nil {
			return domain.WrapOp("Registry.Load", err)
		}
		if len(stored) > 0 {
			descriptors = stored
		} else {
			for _, d := range seed {
				d, err := r.prepare(d)
				if err != nil {
					return domain.WrapOp("Registry.Load", err)
				}
				if err := r.store.SaveAgent(ctx, d); err != nil {
					return domain.WrapOp("Registry.Load", err)
				}
			}
			r.logger.Info("agent store seeded", "count", len(seed))
		}
	}

	order := make([]string, 0, len(descriptors))
	agents := make(map[string]domain.AgentDescriptor, len(descriptors))
	for _, d := range descriptors {
		d, err := r.prepare(d)
		if err != nil {
			return domain.WrapOp("Registry.Load", err)
		}
		if _, dup := agents[d.EndpointPath]; !dup {
			order = append(order, d.EndpointPath)
		}
		agents[d.EndpointPath] = d
	}

	r.mu.Lock()
	r.order = order
	r.agents = agents
	r.rebuildAliasesLocked()
	r.mu.Unlock()

	r.logger.Info("agent registry loaded", "count", len(order))
	return nil
}

// Get returns the descriptor for an endpoint path.
func (r *Registry) Get(endpointPath string) (domain.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.agents[endpointPath]
	if !ok {
		return domain.AgentDescriptor{}, domain.NewDomainError("Registry.Get", domain.ErrEndpointNotFound, endpointPath)
	}
	return d.Clone(), nil
}

// List returns every descriptor in insertion order.
func (r *Registry) List() []domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentDescriptor, 0, len(r.order))
	for _, path := range r.order {
		out = append(out, r.agents[path].Clone())
	}
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Resolve looks up a task alias (agent id, endpoint path with or without
// the leading slash, or a configured alias). Matching is case-insensitive.
func (r *Registry) Resolve(alias string) (domain.AgentDescriptor, bool) {
	key := strings.ToLower(strings.TrimSpace(alias))
	if key == "" {
		return domain.AgentDescriptor{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	path, ok := r.aliases[key]
	if !ok {
		return domain.AgentDescriptor{}, false
	}
	return r.agents[path].Clone(), true
}

// Upsert validates d and inserts it, or replaces the descriptor with the
// same endpoint path. replaced reports which of the two happened. On any
// error the registry is left unchanged.
func (r *Registry) Upsert(ctx context.Context, d domain.AgentDescriptor) (saved domain.AgentDescriptor, replaced bool, err error) {
	d, err = r.prepare(d)
	if err != nil {
		return domain.AgentDescriptor{}, false, domain.WrapOp("Registry.Upsert", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	existing, replacing := r.agents[d.EndpointPath]
	r.mu.RUnlock()

	d.UpdatedAt = r.now().UTC()
	if replacing {
		d.CreatedAt = existing.CreatedAt
	}

	if r.store != nil {
		if err := r.store.SaveAgent(ctx, d); err != nil {
			return domain.AgentDescriptor{}, false, domain.WrapOp("Registry.Upsert", err)
		}
	}

	r.mu.Lock()
	if !replacing {
		r.order = append(r.order, d.EndpointPath)
	}
	r.agents[d.EndpointPath] = d
	r.rebuildAliasesLocked()
	r.mu.Unlock()

	if replacing {
		r.logger.Info("agent updated", "endpoint", d.EndpointPath, "agent_id", d.AgentID)
	} else {
		r.logger.Info("agent registered", "endpoint", d.EndpointPath, "agent_id", d.AgentID)
	}
	return d.Clone(), replacing, nil
}

// Remove deletes the descriptor for endpointPath. It reports false when
// no such descriptor exists.
func (r *Registry) Remove(ctx context.Context, endpointPath string) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	_, ok := r.agents[endpointPath]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if r.store != nil {
		if _, err := r.store.DeleteAgent(ctx, endpointPath); err != nil {
			return false, domain.WrapOp("Registry.Remove", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[endpointPath]; !ok {
		return false, nil
	}
	delete(r.agents, endpointPath)
	for i, path := range r.order {
		if path == endpointPath {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuildAliasesLocked()
	r.logger.Info("agent removed", "endpoint", endpointPath)
	return true, nil
}

// prepare normalises and validates d and fills missing timestamps.
func (r *Registry) prepare(d domain.AgentDescriptor) (domain.AgentDescriptor, error) {
	d = d.Normalize(r.defaultModel)
	if err := d.Validate(); err != nil {
		return d, err
	}
	now := r.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	return d, nil
}

// rebuildAliasesLocked recomputes the alias table. Earlier classes win on
// collision: endpoint path, bare endpoint name, configured alias, agent id.
// Within a class the first registered descriptor wins. r.mu must be held.
func (r *Registry) rebuildAliasesLocked() {
	aliases := make(map[string]string, len(r.order)*3+len(r.taskAliases))
	add := func(alias, path string) {
		alias = strings.ToLower(alias)
		if alias == "" {
			return
		}
		if _, taken := aliases[alias]; !taken {
			aliases[alias] = path
		}
	}

	for _, path := range r.order {
		add(path, path)
	}
	for _, path := range r.order {
		add(strings.TrimPrefix(path, "/"), path)
	}
	for alias, path := range r.taskAliases {
		if _, ok := r.agents[path]; ok {
			add(alias, path)
		}
	}
	for _, path := range r.order {
		add(r.agents[path].AgentID, path)
	}
	r.aliases = aliases
}
