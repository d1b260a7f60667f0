package topology

import (
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
)

// Registry holds every resource of one topology, unique by name, in
// registration order. Resources are never removed.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Resource
	order   []*Resource
	publish func(Event)
}

// NewRegistry creates an empty registry. publish receives the lifecycle
// events of registered resources and may be nil.
func NewRegistry(publish func(Event)) *Registry {
	return &Registry{
		byName:  make(map[string]*Resource),
		publish: publish,
	}
}

// Register adds a resource.
//
// Errors:
//   - domain.ErrInvalidName for empty or malformed names
//   - domain.ErrDuplicateName if name is already registered
func (r *Registry) Register(name string, kind domain.Kind, props domain.Properties) (*Resource, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, domain.NewTopologyError("Register", name, err.Error(), err)
	}
	if !kind.IsValid() {
		return nil, domain.NewTopologyError("Register", name, "unknown kind "+string(kind), domain.ErrInvalidName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		return nil, domain.NewTopologyError("Register", name,
			"already registered as "+string(existing.kind), domain.ErrDuplicateName)
	}
	res := newResource(name, kind, props, r.publish)
	r.byName[name] = res
	r.order = append(r.order, res)
	return res, nil
}

// Find looks a resource up by name.
func (r *Registry) Find(name string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byName[name]
	return res, ok
}

// All returns every resource in registration order.
func (r *Registry) All() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Resource(nil), r.order...)
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
