package topology

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/ports"
)

// DefaultHost is the host name used in resolved endpoint URLs.
const DefaultHost = "localhost"

// UsedPortSource reports host ports already taken outside the topology.
type UsedPortSource interface {
	UsedPorts(ctx context.Context) ([]int, error)
}

type endpointEntry struct {
	ep      domain.Endpoint
	dynamic bool
}

// Allocator records endpoints at declaration time and binds host ports in
// one allocation pass.
type Allocator struct {
	mu        sync.Mutex
	portRange ports.Range
	host      string
	usedPorts UsedPortSource
	logger    *slog.Logger

	entries []*endpointEntry
	byKey   map[string]*endpointEntry
	fixed   map[string]string // "port/proto" -> owning resource
	sealed  bool
}

// NewAllocator creates an allocator. A zero portRange selects
// ports.DefaultRange; usedPorts may be nil.
func NewAllocator(portRange ports.Range, host string, usedPorts UsedPortSource, logger *slog.Logger) *Allocator {
	if portRange == (ports.Range{}) {
		portRange = ports.DefaultRange()
	}
	if host == "" {
		host = DefaultHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		portRange: portRange,
		host:      host,
		usedPorts: usedPorts,
		logger:    logger.With("component", "endpoint_allocator"),
		byKey:     make(map[string]*endpointEntry),
		fixed:     make(map[string]string),
	}
}

func endpointKey(resource, name string) string {
	return resource + "/" + name
}

// Allocate records an endpoint for resource and returns a reference to it.
// The host port stays unbound until Bind.
//
// Errors:
//   - domain.ErrInvalidEndpoint for malformed specs or allocation after Bind
//   - domain.ErrDuplicateEndpoint for a repeated name or target port
//   - *domain.PortConflictError when the fixed host port is already claimed
func (a *Allocator) Allocate(resource string, spec domain.EndpointSpec) (*EndpointRef, error) {
	spec, err := domain.NormalizeEndpointSpec(spec)
	if err != nil {
		return nil, domain.NewTopologyError("Allocate", resource, err.Error(), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return nil, domain.NewTopologyError("Allocate", resource,
			fmt.Sprintf("endpoint %s declared after allocation", spec.Name), domain.ErrInvalidEndpoint)
	}
	key := endpointKey(resource, spec.Name)
	if _, ok := a.byKey[key]; ok {
		return nil, domain.NewTopologyError("Allocate", resource,
			fmt.Sprintf("endpoint %s declared twice", spec.Name), domain.ErrDuplicateEndpoint)
	}
	for _, e := range a.entries {
		if e.ep.Resource == resource && e.ep.TargetPort == spec.TargetPort && e.ep.Protocol == spec.Protocol {
			return nil, domain.NewTopologyError("Allocate", resource,
				fmt.Sprintf("target port %d/%s already used by endpoint %s", spec.TargetPort, spec.Protocol, e.ep.Name),
				domain.ErrDuplicateEndpoint)
		}
	}
	if spec.HostPort > 0 {
		fixedKey := fmt.Sprintf("%d/%s", spec.HostPort, spec.Protocol)
		if holder, ok := a.fixed[fixedKey]; ok {
			return nil, &domain.PortConflictError{Port: spec.HostPort, Resource: resource, Holder: holder}
		}
		a.fixed[fixedKey] = resource
	}

	entry := &endpointEntry{
		ep:      domain.Endpoint{EndpointSpec: spec, Resource: resource},
		dynamic: spec.HostPort == 0,
	}
	a.entries = append(a.entries, entry)
	a.byKey[key] = entry
	return &EndpointRef{alloc: a, resource: resource, name: spec.Name}, nil
}

// Bind is the allocation pass: every dynamic endpoint receives the first
// free port of the range, skipping fixed ports and ports reported by the
// UsedPortSource. Bind is idempotent until Reset.
func (a *Allocator) Bind(ctx context.Context) error {
	a.mu.Lock()
	sealed := a.sealed
	a.mu.Unlock()
	if sealed {
		return nil
	}

	var external []int
	if a.usedPorts != nil {
		var err error
		external, err = a.usedPorts.UsedPorts(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("could not list used host ports, continuing without", "error", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	used := ports.NewSet(external...)
	for _, e := range a.entries {
		if !e.dynamic {
			if used.Has(e.ep.HostPort) {
				a.logger.Warn("fixed host port is already published on this host",
					"resource", e.ep.Resource, "endpoint", e.ep.Name, "port", e.ep.HostPort)
			}
			used.Add(e.ep.HostPort)
		}
	}
	for _, e := range a.entries {
		if e.dynamic {
			port, err := ports.Allocate(used, a.portRange)
			if err != nil {
				return domain.NewTopologyError("Bind", e.ep.Resource,
					fmt.Sprintf("no host port for endpoint %s", e.ep.Name), err)
			}
			used.Add(port)
			e.ep.HostPort = port
		}
		e.ep.Bound = true
		e.ep.Host = a.host
	}
	a.sealed = true
	a.logger.Debug("endpoints bound", "count", len(a.entries))
	return nil
}

// Sealed reports whether Bind has completed.
func (a *Allocator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Reset unbinds every endpoint so the topology can be rebuilt. Dynamic
// endpoints lose their host port.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		e.ep.Bound = false
		e.ep.Host = ""
		if e.dynamic {
			e.ep.HostPort = 0
		}
	}
	a.sealed = false
}

// Lookup returns a copy of an endpoint.
func (a *Allocator) Lookup(resource, name string) (domain.Endpoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.byKey[endpointKey(resource, name)]
	if !ok {
		return domain.Endpoint{}, false
	}
	return e.ep, true
}

// Endpoints returns the endpoints of resource in declaration order.
func (a *Allocator) Endpoints(resource string) []domain.Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Endpoint
	for _, e := range a.entries {
		if e.ep.Resource == resource {
			out = append(out, e.ep)
		}
	}
	return out
}

// =============================================================================
// EndpointRef
// =============================================================================

// EndpointRef points at an endpoint that may not be bound yet.
type EndpointRef struct {
	alloc    *Allocator
	resource string
	name     string
}

// Resource returns the owning resource name.
func (r *EndpointRef) Resource() string { return r.resource }

// Name returns the endpoint name.
func (r *EndpointRef) Name() string { return r.name }

// Endpoint returns the bound endpoint.
//
// Errors:
//   - domain.ErrPrematureResolution before Bind or while unbound
//   - domain.ErrNotFound if the endpoint was never declared
func (r *EndpointRef) Endpoint() (domain.Endpoint, error) {
	if r.alloc == nil || !r.alloc.Sealed() {
		return domain.Endpoint{}, domain.NewTopologyError("Resolve", r.resource,
			fmt.Sprintf("endpoint %s read before allocation", r.name), domain.ErrPrematureResolution)
	}
	ep, ok := r.alloc.Lookup(r.resource, r.name)
	if !ok {
		return domain.Endpoint{}, domain.NewTopologyError("Resolve", r.resource,
			fmt.Sprintf("endpoint %s is not declared", r.name), domain.ErrNotFound)
	}
	if !ep.Bound {
		return domain.Endpoint{}, domain.NewTopologyError("Resolve", r.resource,
			fmt.Sprintf("endpoint %s is not bound", r.name), domain.ErrPrematureResolution)
	}
	return ep, nil
}

// ready reports whether Endpoint would succeed.
func (r *EndpointRef) ready() error {
	_, err := r.Endpoint()
	return err
}

// markExternal flags every endpoint of resource as externally reachable.
func (a *Allocator) markExternal(resource string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.ep.Resource == resource {
			e.ep.External = true
		}
	}
}
