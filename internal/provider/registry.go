package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
)

// Info is the registry's public view of one registered adapter.
type Info struct {
	Name          string       `json:"name"`
	DisplayName   string       `json:"display_name"`
	Capabilities  Capabilities `json:"capabilities"`
	Healthy       bool         `json:"healthy"`
	HealthMessage string       `json:"health_message,omitempty"`
}

// Registry holds the available provider adapters keyed by name. Registration
// is additive; resolving an unknown name is a NotFoundError.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	display   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		display:   make(map[string]string),
	}
}

// Register adds (or replaces) an adapter under its name.
func (r *Registry) Register(p Provider, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		logger.Warn("overwriting provider registration", "provider", name)
	}
	r.providers[name] = p
	if displayName == "" {
		displayName = name
	}
	r.display[name] = displayName
	logger.Info("registered provider", "provider", name)
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, errs.NotFound("provider", name)
	}
	return p, nil
}

// Has reports whether a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns the registered provider names, sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns info, including a live health check, for every registered
// provider.
func (r *Registry) List(ctx context.Context) []Info {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	display := make(map[string]string, len(r.display))
	for name, d := range r.display {
		display[name] = d
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		p := snapshot[name]
		healthy, detail := p.HealthCheck(ctx)
		out = append(out, Info{
			Name:          name,
			DisplayName:   display[name],
			Capabilities:  p.Capabilities(),
			Healthy:       healthy,
			HealthMessage: detail,
		})
	}
	return out
}
