package domain

import "time"

// Mode selects what a pass over the topology does.
type Mode string

const (
	ModeRun     Mode = "run"
	ModePublish Mode = "publish"
)

// Plan is the resolved, orderable output of one build pass.
type Plan struct {
	ID        string         `json:"id" yaml:"id"`
	Project   string         `json:"project" yaml:"project"`
	Mode      Mode           `json:"mode" yaml:"mode"`
	Flags     string         `json:"flags" yaml:"flags"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Order     []string       `json:"order" yaml:"order"`
	Resources []ResourcePlan `json:"resources" yaml:"resources"`
}

// Resource returns the plan entry for name.
func (p *Plan) Resource(name string) (ResourcePlan, bool) {
	for _, r := range p.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourcePlan{}, false
}

// ResourcePlan is the snapshot of one resource inside a plan.
type ResourcePlan struct {
	Name        string         `json:"name" yaml:"name"`
	Kind        Kind           `json:"kind" yaml:"kind"`
	Image       string         `json:"image,omitempty" yaml:"image,omitempty"`
	Command     []string       `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string       `json:"args,omitempty" yaml:"args,omitempty"`
	State       State          `json:"state" yaml:"state"`
	Properties  Properties     `json:"properties" yaml:"properties,omitempty"`
	Environment Properties     `json:"environment" yaml:"environment,omitempty"`
	Endpoints   []EndpointPlan `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Volumes     []string       `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	WaitFor     []string       `json:"wait_for,omitempty" yaml:"wait_for,omitempty"`
	Parents     []string       `json:"parents,omitempty" yaml:"parents,omitempty"`
	HealthCheck *HealthCheck   `json:"health_check,omitempty" yaml:"health_check,omitempty"`
}

// EndpointPlan is an endpoint as shown in a plan.
type EndpointPlan struct {
	Name       string `json:"name" yaml:"name"`
	Protocol   string `json:"protocol" yaml:"protocol"`
	Scheme     string `json:"scheme" yaml:"scheme"`
	TargetPort int    `json:"target_port" yaml:"target_port"`
	HostPort   int    `json:"host_port,omitempty" yaml:"host_port,omitempty"`
	External   bool   `json:"external,omitempty" yaml:"external,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
}

// NewEndpointPlan converts an endpoint; the URL is set once bound.
func NewEndpointPlan(ep Endpoint) EndpointPlan {
	out := EndpointPlan{
		Name:       ep.Name,
		Protocol:   ep.Protocol,
		Scheme:     ep.Scheme,
		TargetPort: ep.TargetPort,
		HostPort:   ep.HostPort,
		External:   ep.External,
	}
	if url, err := ep.URL(); err == nil {
		out.URL = url
	}
	return out
}
