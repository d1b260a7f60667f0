package topology

import (
	"fmt"

	"github.com/artpar/apphost/internal/core/domain"
)

// ResourceBuilder is the fluent declaration handle returned by the Add*
// methods. The first error sticks: later calls become no-ops and the error
// is reported by Err and by Topology.Plan.
type ResourceBuilder struct {
	t    *Topology
	res  *Resource
	name string // used when res is nil
	err  error
}

// Resource returns the underlying resource, or nil after an error.
func (b *ResourceBuilder) Resource() *Resource { return b.res }

// Name returns the resource name.
func (b *ResourceBuilder) Name() string {
	if b.res != nil {
		return b.res.Name()
	}
	return b.name
}

// Err returns the first error of this builder.
func (b *ResourceBuilder) Err() error { return b.err }

func (b *ResourceBuilder) fail(err error) *ResourceBuilder {
	if b.err == nil {
		b.err = err
		b.t.recordErr(err)
	}
	return b
}

func (b *ResourceBuilder) update(fn func(r *Resource)) *ResourceBuilder {
	if b.err != nil || b.res == nil {
		return b
	}
	b.res.update(fn)
	return b
}

// =============================================================================
// Endpoints
// =============================================================================

// WithEndpoint declares an endpoint.
func (b *ResourceBuilder) WithEndpoint(spec domain.EndpointSpec) *ResourceBuilder {
	if b.err != nil {
		return b
	}
	if _, err := b.t.alloc.Allocate(b.res.Name(), spec); err != nil {
		return b.fail(err)
	}
	return b
}

// WithHTTPEndpoint declares an http endpoint; hostPort 0 is allocated.
func (b *ResourceBuilder) WithHTTPEndpoint(name string, hostPort, targetPort int) *ResourceBuilder {
	return b.WithEndpoint(domain.EndpointSpec{
		Name:       name,
		Scheme:     "http",
		TargetPort: targetPort,
		HostPort:   hostPort,
	})
}

// WithPortMapping declares endpoints from a docker-style mapping such as
// "15432:5432" or "53/udp". Unnamed endpoints are called
// "port-<target>".
func (b *ResourceBuilder) WithPortMapping(mapping string) *ResourceBuilder {
	if b.err != nil {
		return b
	}
	specs, err := domain.ParseEndpointSpec(mapping)
	if err != nil {
		return b.fail(domain.NewTopologyError("WithPortMapping", b.Name(), err.Error(), err))
	}
	for _, spec := range specs {
		spec.Name = fmt.Sprintf("port-%d", spec.TargetPort)
		if spec.Protocol == "udp" {
			spec.Name += "-udp"
		}
		b.WithEndpoint(spec)
	}
	return b
}

// WithExternalEndpoints marks every endpoint declared so far as external.
func (b *ResourceBuilder) WithExternalEndpoints() *ResourceBuilder {
	if b.err != nil {
		return b
	}
	b.t.alloc.markExternal(b.res.Name())
	return b
}

// Endpoint returns a reference to a declared endpoint. An unknown name
// yields a reference whose resolution fails with domain.ErrNotFound.
func (b *ResourceBuilder) Endpoint(name string) *EndpointRef {
	return &EndpointRef{alloc: b.t.alloc, resource: b.Name(), name: name}
}

// =============================================================================
// Runtime configuration
// =============================================================================

// WithEnv sets an environment variable to a deferred value. Setting a key
// again replaces its value in place.
func (b *ResourceBuilder) WithEnv(key string, value *Deferred) *ResourceBuilder {
	if b.err != nil {
		return b
	}
	if value == nil {
		value = Literal("")
	}
	b.t.resolver.Track(value)
	return b.update(func(r *Resource) {
		for i := range r.env {
			if r.env[i].Key == key {
				r.env[i].Value = value
				return
			}
		}
		r.env = append(r.env, EnvVar{Key: key, Value: value})
	})
}

// WithEnvValue sets an environment variable to a literal.
func (b *ResourceBuilder) WithEnvValue(key, value string) *ResourceBuilder {
	return b.WithEnv(key, Literal(value))
}

// WithArgs appends container arguments.
func (b *ResourceBuilder) WithArgs(args ...string) *ResourceBuilder {
	return b.update(func(r *Resource) { r.args = append(r.args, args...) })
}

// WithVolume mounts source at target.
func (b *ResourceBuilder) WithVolume(source, target string) *ResourceBuilder {
	return b.update(func(r *Resource) {
		r.volumes = append(r.volumes, Volume{Source: source, Target: target})
	})
}

// WithReadOnlyVolume mounts source at target read-only.
func (b *ResourceBuilder) WithReadOnlyVolume(source, target string) *ResourceBuilder {
	return b.update(func(r *Resource) {
		r.volumes = append(r.volumes, Volume{Source: source, Target: target, ReadOnly: true})
	})
}

// WithProperty sets a display property.
func (b *ResourceBuilder) WithProperty(key, value string) *ResourceBuilder {
	if b.err != nil {
		return b
	}
	if key == domain.ParentNameProperty {
		return b.fail(domain.NewTopologyError("WithProperty", b.Name(),
			key+" is reserved for group propagation", domain.ErrInvalidName))
	}
	b.res.PublishProperty(key, value)
	return b
}

// WithHealthCheck probes path on one of the resource's http endpoints
// before the resource counts as Ready.
func (b *ResourceBuilder) WithHealthCheck(endpoint, path string) *ResourceBuilder {
	return b.update(func(r *Resource) {
		r.health = &domain.HealthCheck{Endpoint: endpoint, Path: path}
	})
}

// =============================================================================
// Relationships
// =============================================================================

// WaitFor delays this resource's start until dep is Ready.
func (b *ResourceBuilder) WaitFor(dep *ResourceBuilder) *ResourceBuilder {
	if dep.err != nil {
		return b.fail(domain.NewTopologyError("WaitFor", b.Name(),
			fmt.Sprintf("dependency %s was not declared", dep.Name()), dep.err))
	}
	return b.WaitForName(dep.Name())
}

// WaitForName is WaitFor by name; the dependency may be registered later.
func (b *ResourceBuilder) WaitForName(dep string) *ResourceBuilder {
	return b.update(func(r *Resource) {
		for _, d := range r.waitFor {
			if d == dep {
				return
			}
		}
		r.waitFor = append(r.waitFor, dep)
	})
}

// WithParent attaches the resource to group. The group may not exist yet;
// it is created when the plan is sealed if nobody creates it earlier.
func (b *ResourceBuilder) WithParent(group string) *ResourceBuilder {
	if err := domain.ValidateName(group); err != nil {
		return b.fail(domain.NewTopologyError("WithParent", b.Name(), err.Error(), err))
	}
	return b.update(func(r *Resource) {
		for _, p := range r.parents {
			if p == group {
				return
			}
		}
		r.parents = append(r.parents, group)
	})
}
