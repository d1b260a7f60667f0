// Package topology is the stateful build context of an application host:
// it registers resources, allocates their endpoints, resolves deferred
// values, propagates group relationships and produces an ordered plan.
//
// A Topology owns its event bus; Close tears it down. Builders may add
// resources from several goroutines at once.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/graph"
	"github.com/artpar/apphost/internal/core/ports"
)

// Options configures a Topology.
type Options struct {
	Project   string
	PortRange ports.Range
	Host      string
	UsedPorts UsedPortSource
	Logger    *slog.Logger
}

// Topology is one build context.
type Topology struct {
	project string
	logger  *slog.Logger

	bus        *Bus
	registry   *Registry
	alloc      *Allocator
	resolver   *Resolver
	propagator *Propagator

	groupsMu sync.Mutex
	groups   map[string]*Resource

	errMu sync.Mutex
	errs  []error

	planMu      sync.Mutex
	resolvedEnv map[string]domain.Properties
}

// New creates an empty topology.
func New(opts Options) *Topology {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Project == "" {
		opts.Project = "apphost"
	}

	bus := NewBus(logger)
	registry := NewRegistry(bus.Publish)
	alloc := NewAllocator(opts.PortRange, opts.Host, opts.UsedPorts, logger)

	return &Topology{
		project:     opts.Project,
		logger:      logger.With("component", "topology"),
		bus:         bus,
		registry:    registry,
		alloc:       alloc,
		resolver:    NewResolver(alloc),
		propagator:  NewPropagator(registry, bus, logger),
		groups:      make(map[string]*Resource),
		resolvedEnv: make(map[string]domain.Properties),
	}
}

// Project returns the project name.
func (t *Topology) Project() string { return t.project }

// Registry returns the resource registry.
func (t *Topology) Registry() *Registry { return t.registry }

// Allocator returns the endpoint allocator.
func (t *Topology) Allocator() *Allocator { return t.alloc }

// Resolver returns the deferred value resolver.
func (t *Topology) Resolver() *Resolver { return t.resolver }

// Bus returns the topology-scoped event bus.
func (t *Topology) Bus() *Bus { return t.bus }

// Propagator returns the group relationship propagator.
func (t *Topology) Propagator() *Propagator { return t.propagator }

// Close tears the event bus down.
func (t *Topology) Close() {
	t.bus.Close()
}

// =============================================================================
// Declaration
// =============================================================================

// AddContainer registers a container resource.
func (t *Topology) AddContainer(name, image string) *ResourceBuilder {
	b := t.add(name, domain.KindContainer)
	b.update(func(r *Resource) { r.image = image })
	return b
}

// AddProcess registers a process resource.
func (t *Topology) AddProcess(name string, command ...string) *ResourceBuilder {
	b := t.add(name, domain.KindProcess)
	b.update(func(r *Resource) { r.command = append([]string(nil), command...) })
	return b
}

// AddVirtual registers a resource that has no startup work of its own but
// still takes part in ordering.
func (t *Topology) AddVirtual(name string) *ResourceBuilder {
	return t.add(name, domain.KindVirtual)
}

// AddGroup returns a builder for the group name, creating it on first use.
func (t *Topology) AddGroup(name string) *ResourceBuilder {
	g, err := t.Group(name)
	if err != nil {
		return t.failed(name, err)
	}
	return &ResourceBuilder{t: t, res: g}
}

// Resource returns a builder for an already registered resource.
func (t *Topology) Resource(name string) *ResourceBuilder {
	res, ok := t.registry.Find(name)
	if !ok {
		return t.failed(name, domain.NewTopologyError("Resource", name, "not registered", domain.ErrNotFound))
	}
	return &ResourceBuilder{t: t, res: res}
}

// Endpoint returns a reference to an endpoint of resource. Neither needs
// to be declared yet; resolution checks them once allocation is sealed.
func (t *Topology) Endpoint(resource, name string) *EndpointRef {
	return &EndpointRef{alloc: t.alloc, resource: resource, name: name}
}

// Group returns the group called name, registering it on first reference.
// Every caller receives the same instance.
//
// Errors:
//   - domain.ErrNotAGroup if name is registered with another kind
func (t *Topology) Group(name string) (*Resource, error) {
	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()

	if g, ok := t.groups[name]; ok {
		return g, nil
	}
	if existing, ok := t.registry.Find(name); ok {
		if existing.Kind() != domain.KindGroup {
			return nil, domain.NewTopologyError("Group", name,
				"already registered as "+string(existing.Kind()), domain.ErrNotAGroup)
		}
		t.groups[name] = existing
		t.propagator.Watch(name)
		return existing, nil
	}
	g, err := t.registry.Register(name, domain.KindGroup, nil)
	if err != nil {
		return nil, err
	}
	t.groups[name] = g
	t.propagator.Watch(name)
	t.logger.Debug("group created", "group", name)
	return g, nil
}

// Groups returns the groups created so far in registration order.
func (t *Topology) Groups() []*Resource {
	var out []*Resource
	for _, r := range t.registry.All() {
		if r.Kind() == domain.KindGroup {
			out = append(out, r)
		}
	}
	return out
}

func (t *Topology) add(name string, kind domain.Kind) *ResourceBuilder {
	res, err := t.registry.Register(name, kind, nil)
	if err != nil {
		return t.failed(name, err)
	}
	return &ResourceBuilder{t: t, res: res}
}

func (t *Topology) failed(name string, err error) *ResourceBuilder {
	t.recordErr(err)
	return &ResourceBuilder{t: t, name: name, err: err}
}

func (t *Topology) recordErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	t.errs = append(t.errs, err)
}

// Err returns every declaration error recorded so far, joined.
func (t *Topology) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return errors.Join(t.errs...)
}

// =============================================================================
// Planning
// =============================================================================

// Plan seals the declaration: dangling parent groups are created, the
// start order is computed, endpoints are bound and environment values are
// resolved. Declaration errors, cycles and port conflicts abort before
// anything is bound.
func (t *Topology) Plan(ctx context.Context) (*domain.Plan, error) {
	if err := t.Err(); err != nil {
		return nil, err
	}
	if err := t.materializeGroups(); err != nil {
		return nil, err
	}
	order, err := t.StartOrder()
	if err != nil {
		return nil, err
	}
	if err := t.alloc.Bind(ctx); err != nil {
		return nil, err
	}
	if err := t.resolveEnvironment(ctx); err != nil {
		return nil, err
	}

	plan := &domain.Plan{
		ID:        uuid.NewString(),
		Project:   t.project,
		CreatedAt: time.Now().UTC(),
		Order:     order,
		Resources: t.Snapshot(),
	}
	t.logger.Info("plan created", "plan_id", plan.ID, "resources", len(plan.Resources))
	return plan, nil
}

// Rebuild unbinds endpoints and invalidates every deferred value so the
// next Plan resolves them again.
func (t *Topology) Rebuild() {
	t.alloc.Reset()
	t.resolver.Invalidate()
	t.planMu.Lock()
	t.resolvedEnv = make(map[string]domain.Properties)
	t.planMu.Unlock()
}

// StartOrder computes the wait-for order of every registered resource.
func (t *Topology) StartOrder() ([]string, error) {
	g, err := t.Graph()
	if err != nil {
		return nil, err
	}
	return g.StartOrder()
}

// Graph builds the dependency graph of the current declaration.
func (t *Topology) Graph() (*graph.Graph, error) {
	g := graph.New()
	all := t.registry.All()
	for _, r := range all {
		g.AddNode(r.Name())
	}
	for _, r := range all {
		for _, dep := range r.WaitFor() {
			if err := g.AddWaitFor(r.Name(), dep); err != nil {
				return nil, err
			}
		}
		for _, p := range r.Parents() {
			g.AddParentGroup(r.Name(), p)
		}
	}
	return g, nil
}

// materializeGroups creates groups that were only named as parents.
func (t *Topology) materializeGroups() error {
	var errs []error
	for _, r := range t.registry.All() {
		for _, p := range r.Parents() {
			if _, err := t.Group(p); err != nil {
				errs = append(errs, domain.NewTopologyError("Plan", r.Name(),
					fmt.Sprintf("parent %s cannot be used as a group", p), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (t *Topology) resolveEnvironment(ctx context.Context) error {
	resolved := make(map[string]domain.Properties)
	var errs []error
	for _, r := range t.registry.All() {
		var env domain.Properties
		for _, ev := range r.Env() {
			v, err := t.resolver.Resolve(ctx, ev.Value)
			if err != nil {
				errs = append(errs, domain.NewTopologyError("Plan", r.Name(),
					fmt.Sprintf("resolve %s: %v", ev.Key, err), err))
				continue
			}
			env = env.With(ev.Key, v)
		}
		resolved[r.Name()] = env
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	t.planMu.Lock()
	t.resolvedEnv = resolved
	t.planMu.Unlock()
	return nil
}

// Snapshot describes every resource with its current state and properties.
// Environment values are those of the last Plan.
func (t *Topology) Snapshot() []domain.ResourcePlan {
	t.planMu.Lock()
	env := t.resolvedEnv
	t.planMu.Unlock()

	all := t.registry.All()
	out := make([]domain.ResourcePlan, 0, len(all))
	for _, r := range all {
		out = append(out, t.describe(r, env[r.Name()]))
	}
	return out
}

// Describe returns the snapshot of one resource.
func (t *Topology) Describe(name string) (domain.ResourcePlan, bool) {
	r, ok := t.registry.Find(name)
	if !ok {
		return domain.ResourcePlan{}, false
	}
	t.planMu.Lock()
	env := t.resolvedEnv[name]
	t.planMu.Unlock()
	return t.describe(r, env), true
}

func (t *Topology) describe(r *Resource, env domain.Properties) domain.ResourcePlan {
	rp := domain.ResourcePlan{
		Name:        r.Name(),
		Kind:        r.Kind(),
		Image:       r.Image(),
		Command:     r.Command(),
		Args:        r.Args(),
		State:       r.State(),
		Properties:  r.Properties(),
		Environment: env.Clone(),
		WaitFor:     r.WaitFor(),
		Parents:     r.Parents(),
		HealthCheck: r.HealthCheck(),
	}
	for _, ep := range t.alloc.Endpoints(r.Name()) {
		rp.Endpoints = append(rp.Endpoints, domain.NewEndpointPlan(ep))
	}
	for _, v := range r.Volumes() {
		mount := v.Source + ":" + v.Target
		if v.ReadOnly {
			mount += ":ro"
		}
		rp.Volumes = append(rp.Volumes, mount)
	}
	return rp
}
