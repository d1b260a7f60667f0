package topology

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
)

// EnvVar is one environment entry of a resource. Values stay deferred until
// the plan is resolved.
type EnvVar struct {
	Key   string
	Value *Deferred
}

// Volume is a mount requested by a container resource.
type Volume struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Resource is a registered node of the topology. All accessors are safe for
// concurrent use.
type Resource struct {
	name string
	kind domain.Kind

	mu      sync.Mutex
	props   domain.Properties
	state   domain.State
	changed chan struct{} // closed and replaced on every transition
	reason  error         // why the resource failed or stopped

	image   string
	command []string
	args    []string
	volumes []Volume
	env     []EnvVar
	waitFor []string
	parents []string
	health  *domain.HealthCheck

	publish func(Event)
}

func newResource(name string, kind domain.Kind, props domain.Properties, publish func(Event)) *Resource {
	state := domain.StatePending
	if kind == domain.KindGroup {
		state = domain.StateReady
	}
	if publish == nil {
		publish = func(Event) {}
	}
	return &Resource{
		name:    name,
		kind:    kind,
		props:   props.Clone(),
		state:   state,
		changed: make(chan struct{}),
		publish: publish,
	}
}

// Name returns the unique resource name.
func (r *Resource) Name() string { return r.name }

// Kind returns the resource kind.
func (r *Resource) Kind() domain.Kind { return r.kind }

// =============================================================================
// Properties
// =============================================================================

// Properties returns a snapshot of the property bag.
func (r *Resource) Properties() domain.Properties {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.props.Clone()
}

// Property returns a single property value.
func (r *Resource) Property(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.props.Get(key)
}

// PublishProperty sets key to value and notifies subscribers.
// Publishing the value a key already holds is a no-op.
func (r *Resource) PublishProperty(key, value string) {
	r.mu.Lock()
	if current, ok := r.props.Get(key); ok && current == value {
		r.mu.Unlock()
		return
	}
	r.props = r.props.With(key, value)
	r.mu.Unlock()

	r.publish(Event{Type: EventPropertyChanged, Resource: r.name, Key: key, Value: value})
}

// =============================================================================
// Lifecycle
// =============================================================================

// State returns the current lifecycle state.
func (r *Resource) State() domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reason returns the error recorded with a Failed or Stopped transition.
func (r *Resource) Reason() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Transition moves the resource to next. reason is kept for terminal states.
func (r *Resource) Transition(next domain.State, reason error) error {
	r.mu.Lock()
	if !r.state.CanTransitionTo(next) {
		current := r.state
		r.mu.Unlock()
		return domain.NewTopologyError("Transition", r.name,
			fmt.Sprintf("cannot move from %s to %s", current, next), domain.ErrInvalidTransition)
	}
	r.state = next
	if next.IsTerminal() {
		r.reason = reason
	}
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	r.publish(Event{Type: EventStateChanged, Resource: r.name, State: next})
	if next == domain.StateReady {
		r.publish(Event{Type: EventReady, Resource: r.name, State: next})
	}
	return nil
}

// WaitState blocks until done reports true for the current state or ctx is
// cancelled. It returns the state that satisfied done.
func (r *Resource) WaitState(ctx context.Context, done func(domain.State) bool) (domain.State, error) {
	for {
		r.mu.Lock()
		state, changed := r.state, r.changed
		r.mu.Unlock()

		if done(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

// =============================================================================
// Declaration accessors
// =============================================================================

// Image returns the container image ("" for other kinds).
func (r *Resource) Image() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.image
}

// Command returns the process command line.
func (r *Resource) Command() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.command...)
}

// Args returns the container arguments.
func (r *Resource) Args() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.args...)
}

// Volumes returns the declared mounts.
func (r *Resource) Volumes() []Volume {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Volume(nil), r.volumes...)
}

// Env returns the declared environment in declaration order.
func (r *Resource) Env() []EnvVar {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EnvVar(nil), r.env...)
}

// WaitFor returns the names this resource waits for before starting.
func (r *Resource) WaitFor() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.waitFor...)
}

// Parents returns the groups this resource declared as parent.
func (r *Resource) Parents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.parents...)
}

// HasParent reports whether group is one of the declared parents.
func (r *Resource) HasParent(group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.parents {
		if p == group {
			return true
		}
	}
	return false
}

// HealthCheck returns the readiness probe, if any.
func (r *Resource) HealthCheck() *domain.HealthCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		return nil
	}
	hc := *r.health
	return &hc
}

// update runs fn with the resource lock held.
func (r *Resource) update(fn func(r *Resource)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}
