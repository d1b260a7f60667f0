package domain

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Endpoint Types
// =============================================================================

// EndpointSpec declares a network endpoint on a resource.
// HostPort 0 means the host port is chosen during the allocation pass.
type EndpointSpec struct {
	Name       string `json:"name" yaml:"name"`
	Protocol   string `json:"protocol" yaml:"protocol"` // tcp, udp
	Scheme     string `json:"scheme" yaml:"scheme"`     // http, https, tcp
	TargetPort int    `json:"target_port" yaml:"target_port"`
	HostPort   int    `json:"host_port,omitempty" yaml:"host_port,omitempty"`
	External   bool   `json:"external,omitempty" yaml:"external,omitempty"`
}

// Endpoint is a bound (or still unbound) endpoint owned by one resource.
type Endpoint struct {
	EndpointSpec
	Resource string `json:"resource" yaml:"resource"`
	Bound    bool   `json:"bound" yaml:"bound"`
	Host     string `json:"host" yaml:"host"`
}

// Port returns the nat representation of the target port, e.g. "5432/tcp".
func (e Endpoint) Port() nat.Port {
	return nat.Port(fmt.Sprintf("%d/%s", e.TargetPort, e.Protocol))
}

// URL returns the host-facing URL of a bound endpoint.
//
// Example:
//
//	ep := Endpoint{EndpointSpec: EndpointSpec{Scheme: "http", HostPort: 8080}, Bound: true, Host: "localhost"}
//	ep.URL() // "http://localhost:8080", nil
func (e Endpoint) URL() (string, error) {
	if !e.Bound {
		return "", fmt.Errorf("%s/%s: %w", e.Resource, e.Name, ErrEndpointNotBound)
	}
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.HostPort), nil
}

// NormalizeEndpointSpec fills defaults and validates a spec.
// Defaults: protocol "tcp", scheme "tcp", name equal to the scheme.
func NormalizeEndpointSpec(spec EndpointSpec) (EndpointSpec, error) {
	spec.Protocol = strings.ToLower(strings.TrimSpace(spec.Protocol))
	if spec.Protocol == "" {
		spec.Protocol = "tcp"
	}
	if spec.Protocol != "tcp" && spec.Protocol != "udp" {
		return spec, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidEndpoint, spec.Protocol)
	}
	spec.Scheme = strings.ToLower(strings.TrimSpace(spec.Scheme))
	if spec.Scheme == "" {
		spec.Scheme = "tcp"
	}
	if spec.Name == "" {
		spec.Name = spec.Scheme
	}
	if spec.TargetPort <= 0 || spec.TargetPort > 65535 {
		return spec, fmt.Errorf("%w: target port %d out of range", ErrInvalidEndpoint, spec.TargetPort)
	}
	if spec.HostPort < 0 || spec.HostPort > 65535 {
		return spec, fmt.Errorf("%w: host port %d out of range", ErrInvalidEndpoint, spec.HostPort)
	}
	return spec, nil
}

// ParseEndpointSpec parses a compact docker-style port mapping such as
// "8080:80", "5432/tcp" or "127.0.0.1:53:53/udp" into endpoint specs.
// Ranges produce one spec per port.
//
// Example:
//
//	specs, _ := ParseEndpointSpec("15432:5432")
//	// specs[0]: TargetPort 5432, HostPort 15432, Protocol "tcp"
func ParseEndpointSpec(raw string) ([]EndpointSpec, error) {
	mappings, err := nat.ParsePortSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	specs := make([]EndpointSpec, 0, len(mappings))
	for _, m := range mappings {
		spec := EndpointSpec{
			Protocol:   m.Port.Proto(),
			TargetPort: m.Port.Int(),
		}
		if m.Binding.HostPort != "" {
			hostPort, err := nat.ParsePort(m.Binding.HostPort)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
			}
			spec.HostPort = hostPort
		}
		normalized, err := NormalizeEndpointSpec(spec)
		if err != nil {
			return nil, err
		}
		specs = append(specs, normalized)
	}
	return specs, nil
}
