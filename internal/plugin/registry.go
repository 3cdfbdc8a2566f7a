package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry holds the plugins in registration order
type Registry struct {
	mu      sync.RWMutex
	plugins []RoutePlugin
	byID    map[string]RoutePlugin
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]RoutePlugin)}
}

// Register adds p. IDs must be unique.
func (r *Registry) Register(p RoutePlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Info().ID
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("plugin %q already registered", id)
	}
	r.byID[id] = p
	r.plugins = append(r.plugins, p)
	return nil
}

// Get returns the plugin with id
func (r *Registry) Get(id string) (RoutePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// List returns the plugins in registration order
func (r *Registry) List() []RoutePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RoutePlugin(nil), r.plugins...)
}

// FlowDefinitions collects the flows of every plugin
func (r *Registry) FlowDefinitions() []FlowDefinition {
	flows := []FlowDefinition{}
	for _, p := range r.List() {
		flows = append(flows, p.GetFlowDefinitions()...)
	}
	return flows
}

// InitializeAll initializes every plugin, stopping at the first failure
func (r *Registry) InitializeAll(ctx context.Context, config PluginConfig) error {
	for _, p := range r.List() {
		if err := p.Initialize(ctx, config); err != nil {
			return fmt.Errorf("failed to initialize plugin %s: %w", p.Info().ID, err)
		}
	}
	return nil
}

// ShutdownAll shuts every plugin down in reverse order and joins the errors
func (r *Registry) ShutdownAll(ctx context.Context) error {
	plugins := r.List()
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", plugins[i].Info().ID, err))
		}
	}
	return errors.Join(errs...)
}
