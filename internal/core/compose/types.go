package compose

import "github.com/artpar/apphost/internal/core/domain"

// Labels read from compose services.
const (
	// LabelParent names the group a service is attached to.
	LabelParent = "apphost.parent"
	// LabelHealth is "<endpoint>:<path>", e.g. "http:/health/ready".
	LabelHealth = "apphost.health"
	// LabelPrefix marks labels reserved for apphost; they are not copied
	// into resource properties.
	LabelPrefix = "apphost."
)

// Document is the set of declarations found in one compose file.
type Document struct {
	Name     string        `json:"name" yaml:"name"`
	Services []Declaration `json:"services" yaml:"services"`
}

// Declaration is one compose service expressed as a container resource.
type Declaration struct {
	Name        string                `json:"name" yaml:"name"`
	Image       string                `json:"image,omitempty" yaml:"image,omitempty"`
	Build       string                `json:"build,omitempty" yaml:"build,omitempty"` // build context
	Command     []string              `json:"command,omitempty" yaml:"command,omitempty"`
	Endpoints   []domain.EndpointSpec `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Environment domain.Properties     `json:"environment,omitempty" yaml:"environment,omitempty"`
	Volumes     []Volume              `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	DependsOn   []string              `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Parent      string                `json:"parent,omitempty" yaml:"parent,omitempty"`
	Properties  domain.Properties     `json:"properties,omitempty" yaml:"properties,omitempty"`
	HealthCheck *domain.HealthCheck   `json:"health_check,omitempty" yaml:"health_check,omitempty"`
}

// Volume is a mount declared on a service.
type Volume struct {
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
}
