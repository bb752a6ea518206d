package providers

import (
	"fmt"
	"sync"
)

// Registry holds configured providers keyed by name, so the agent loop can
// look one up by the model/provider the session or tool call asks for.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(). The first provider registered becomes
// the primary, used when no provider name is specified.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.primary == "" {
		r.primary = p.Name()
	}
}

// Get returns the named provider, or the primary provider when name is "".
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.primary
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
