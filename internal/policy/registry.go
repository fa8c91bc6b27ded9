package policy

import (
	"sync"
	"sync/atomic"

	"astra-responder/internal/schema"
)

// Registry holds the active policy table. Reads observe either the previous
// list or the fully replaced one, never an interleaving: Replace installs a
// freshly built slice under the write lock and readers get copies.
type Registry struct {
	mu       sync.RWMutex
	configs  map[schema.AlertType][]ActionConfig
	revision atomic.Uint64
}

// NewRegistry returns a registry seeded with the built-in defaults.
func NewRegistry() (*Registry, error) {
	r := &Registry{configs: make(map[schema.AlertType][]ActionConfig)}
	for alertType, configs := range Defaults() {
		if err := r.Replace(alertType, configs); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewEmptyRegistry returns a registry with no policy, for tests and for
// deployments that load the whole table from a file.
func NewEmptyRegistry() *Registry {
	return &Registry{configs: make(map[schema.AlertType][]ActionConfig)}
}

// Get returns the configured actions for an alert type in policy order.
// The returned slice is the caller's to keep.
func (r *Registry) Get(alertType schema.AlertType) []ActionConfig {
	r.mu.RLock()
	configs := r.configs[alertType]
	r.mu.RUnlock()
	return copyConfigs(configs)
}

// All returns the complete policy table.
func (r *Registry) All() map[schema.AlertType][]ActionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[schema.AlertType][]ActionConfig, len(r.configs))
	for alertType, configs := range r.configs {
		out[alertType] = copyConfigs(configs)
	}
	return out
}

// Replace atomically installs a new config list for one alert type. The
// update is total: it either fully validates and replaces the previous
// list, or leaves the registry untouched.
func (r *Registry) Replace(alertType schema.AlertType, configs []ActionConfig) error {
	if !alertType.IsValid() {
		return &ConfigError{AlertType: alertType, Reason: "unknown alert type"}
	}

	next := copyConfigs(configs)
	for i := range next {
		if err := compile(alertType, &next[i]); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.configs[alertType] = next
	r.mu.Unlock()
	r.revision.Add(1)
	return nil
}

// Revision increments on every successful Replace. Exposed for cache
// invalidation and tests.
func (r *Registry) Revision() uint64 {
	return r.revision.Load()
}
