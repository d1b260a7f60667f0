package topology

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
)

// Provider computes a deferred value once its endpoints are bound.
type Provider func(ctx context.Context) (string, error)

// resolution is the memo of one resolution pass.
type resolution struct {
	once  sync.Once
	value string
	err   error
}

// Deferred is a value that may depend on endpoints that are not yet bound.
// The provider runs at most once per resolution pass, even with concurrent
// callers; Invalidate starts a new pass.
type Deferred struct {
	refs     []*EndpointRef
	provider Provider
	inner    []*Deferred // values composed into this one

	mu   sync.Mutex
	pass *resolution
}

// Literal wraps a constant.
func Literal(value string) *Deferred {
	return &Deferred{provider: func(context.Context) (string, error) { return value, nil }}
}

// Defer binds provider to the endpoints it reads.
func Defer(provider Provider, refs ...*EndpointRef) *Deferred {
	return &Deferred{refs: refs, provider: provider}
}

// Refs returns the endpoints the value depends on.
func (d *Deferred) Refs() []*EndpointRef {
	return append([]*EndpointRef(nil), d.refs...)
}

// Resolve returns the value, invoking the provider on the first call of a
// pass. A failed provider call is not memoized.
//
// Errors:
//   - domain.ErrPrematureResolution while any referenced endpoint is unbound
func (d *Deferred) Resolve(ctx context.Context) (string, error) {
	for _, ref := range d.refs {
		if err := ref.ready(); err != nil {
			return "", err
		}
	}

	d.mu.Lock()
	if d.pass == nil {
		d.pass = &resolution{}
	}
	p := d.pass
	d.mu.Unlock()

	p.once.Do(func() {
		p.value, p.err = d.provider(ctx)
	})
	if p.err != nil {
		d.mu.Lock()
		if d.pass == p {
			d.pass = nil
		}
		d.mu.Unlock()
	}
	return p.value, p.err
}

// Invalidate drops the memoized value, including composed values.
func (d *Deferred) Invalidate() {
	d.mu.Lock()
	d.pass = nil
	d.mu.Unlock()
	for _, in := range d.inner {
		in.Invalidate()
	}
}

// =============================================================================
// Endpoint helpers
// =============================================================================

// EndpointURL resolves to "scheme://host:port" of a bound endpoint.
func EndpointURL(ref *EndpointRef) *Deferred {
	return Defer(func(context.Context) (string, error) {
		ep, err := ref.Endpoint()
		if err != nil {
			return "", err
		}
		return ep.URL()
	}, ref)
}

// EndpointHostPort resolves to "host:port".
func EndpointHostPort(ref *EndpointRef) *Deferred {
	return Defer(func(context.Context) (string, error) {
		ep, err := ref.Endpoint()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s:%d", ep.Host, ep.HostPort), nil
	}, ref)
}

// EndpointTargetPort resolves to the container-side port.
func EndpointTargetPort(ref *EndpointRef) *Deferred {
	return Defer(func(context.Context) (string, error) {
		ep, err := ref.Endpoint()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(ep.TargetPort), nil
	}, ref)
}

// Format builds a value with fmt.Sprintf. Arguments of type *Deferred are
// resolved and *EndpointRef arguments are replaced by their URL; anything
// else is passed through.
//
// Example:
//
//	Format("BlobEndpoint=%s/devstoreaccount1;", azurite.Endpoint("blob"))
func Format(format string, args ...any) *Deferred {
	var refs []*EndpointRef
	var inner []*Deferred
	parts := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case *Deferred:
			refs = append(refs, v.refs...)
			inner = append(inner, v)
			parts[i] = v
		case *EndpointRef:
			u := EndpointURL(v)
			refs = append(refs, v)
			inner = append(inner, u)
			parts[i] = u
		default:
			parts[i] = v
		}
	}
	d := Defer(func(ctx context.Context) (string, error) {
		values := make([]any, len(parts))
		for i, p := range parts {
			d, ok := p.(*Deferred)
			if !ok {
				values[i] = p
				continue
			}
			s, err := d.Resolve(ctx)
			if err != nil {
				return "", err
			}
			values[i] = s
		}
		return fmt.Sprintf(format, values...), nil
	}, refs...)
	d.inner = inner
	return d
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver tracks the deferred values of one topology so a rebuild can
// invalidate all of them, and refuses resolution before the allocation pass.
type Resolver struct {
	alloc *Allocator

	mu     sync.Mutex
	values []*Deferred
	seen   map[*Deferred]struct{}
}

// NewResolver creates a resolver bound to alloc.
func NewResolver(alloc *Allocator) *Resolver {
	return &Resolver{alloc: alloc, seen: make(map[*Deferred]struct{})}
}

// Track registers d for invalidation.
func (r *Resolver) Track(d *Deferred) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[d]; ok {
		return
	}
	r.seen[d] = struct{}{}
	r.values = append(r.values, d)
}

// Resolve resolves d.
//
// Errors:
//   - domain.ErrPrematureResolution before the allocation pass completed
func (r *Resolver) Resolve(ctx context.Context, d *Deferred) (string, error) {
	if !r.alloc.Sealed() {
		return "", domain.NewTopologyError("Resolve", "", "value resolved before endpoint allocation", domain.ErrPrematureResolution)
	}
	r.Track(d)
	return d.Resolve(ctx)
}

// Invalidate starts a new resolution pass for every tracked value.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	values := append([]*Deferred(nil), r.values...)
	r.mu.Unlock()
	for _, d := range values {
		d.Invalidate()
	}
}
