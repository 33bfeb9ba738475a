package role

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of roles available to the orchestration core.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[string]Role),
	}
}

// Register adds a role under its name. Registering the same name twice
// replaces the earlier role.
func (r *Registry) Register(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name()] = role
}

// Get returns the role registered under name.
func (r *Registry) Get(name string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[name]
	if !ok {
		return nil, fmt.Errorf("role %q not registered", name)
	}
	return role, nil
}

// Names returns the sorted names of all registered roles.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
