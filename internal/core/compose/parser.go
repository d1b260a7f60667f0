package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/graph"
	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultProjectName is used when the document has no top-level name.
const DefaultProjectName = "apphost"

// =============================================================================
// Parser Functions
// =============================================================================

// Parse converts compose YAML into declarations.
// Services keep the order in which they appear in the document.
func Parse(ctx context.Context, projectName, yamlContent string) (*Document, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}
	if projectName == "" {
		projectName = DefaultProjectName
	}

	order, err := serviceOrder(yamlContent)
	if err != nil {
		return nil, err
	}

	project, err := loadProject(ctx, projectName, yamlContent)
	if err != nil {
		return nil, err
	}
	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	doc := &Document{
		Name:     project.Name,
		Services: make([]Declaration, 0, len(project.Services)),
	}
	for _, name := range order {
		svc, ok := project.Services[name]
		if !ok {
			continue
		}
		decl, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		doc.Services = append(doc.Services, decl)
	}
	if err := checkDependencies(doc.Services); err != nil {
		return nil, err
	}
	return doc, nil
}

// checkDependencies rejects depends_on cycles and unknown services.
func checkDependencies(decls []Declaration) error {
	g := graph.New()
	for _, d := range decls {
		g.AddNode(d.Name)
	}
	for _, d := range decls {
		for _, dep := range d.DependsOn {
			if err := g.AddWaitFor(d.Name, dep); err != nil {
				return NewParseError("services."+d.Name+".depends_on", err.Error(), err)
			}
		}
	}
	if _, err := g.StartOrder(); err != nil {
		return NewParseError("", err.Error(), err)
	}
	return nil
}

// serviceOrder returns the service keys in document order.
func serviceOrder(yamlContent string) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &root); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, NewParseError("", "document is not a mapping", ErrInvalidYAML)
	}
	top := root.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "services" {
			continue
		}
		services := top.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, ErrNoServices
		}
		names := make([]string, 0, len(services.Content)/2)
		for j := 0; j+1 < len(services.Content); j += 2 {
			names = append(names, services.Content[j].Value)
		}
		return names, nil
	}
	return nil, ErrNoServices
}

// loadProject loads the document using compose-go.
func loadProject(ctx context.Context, projectName, yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil || dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName, false)
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", domain.ErrCycle)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}
	return project, nil
}

// checkUnsupportedFeatures rejects features that have no resource equivalent.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// convertService converts a compose-go service into a Declaration.
func convertService(svc types.ServiceConfig) (Declaration, error) {
	field := "services." + svc.Name
	decl := Declaration{
		Name:    svc.Name,
		Image:   svc.Image,
		Command: svc.Command,
	}
	if err := domain.ValidateName(svc.Name); err != nil {
		return Declaration{}, NewParseError(field, err.Error(), err)
	}
	if svc.Build != nil {
		decl.Build = svc.Build.Context
	}
	if decl.Image == "" && decl.Build == "" {
		return Declaration{}, NewParseError(field, "service must have image or build", ErrServiceNoImage)
	}

	for i, p := range svc.Ports {
		spec, err := convertPort(p)
		if err != nil {
			return Declaration{}, NewParseError(fmt.Sprintf("%s.ports[%d]", field, i), err.Error(), ErrServiceInvalidPort)
		}
		decl.Endpoints = append(decl.Endpoints, spec)
	}

	for _, k := range sortedKeys(svc.Environment) {
		if v := svc.Environment[k]; v != nil {
			decl.Environment = decl.Environment.With(k, *v)
		}
	}

	for _, v := range svc.Volumes {
		decl.Volumes = append(decl.Volumes, Volume{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	for dep := range svc.DependsOn {
		decl.DependsOn = append(decl.DependsOn, dep)
	}
	sort.Strings(decl.DependsOn)

	if err := applyLabels(&decl, svc.Labels); err != nil {
		return Declaration{}, err
	}
	return decl, nil
}

// convertPort maps a compose port to an endpoint spec.
// Unnamed ports are called "port-<target>" ("port-<target>-udp" for udp).
func convertPort(p types.ServicePortConfig) (domain.EndpointSpec, error) {
	spec := domain.EndpointSpec{
		Name:       p.Name,
		Protocol:   p.Protocol,
		Scheme:     p.AppProtocol,
		TargetPort: int(p.Target),
	}
	if p.Published != "" {
		published, err := strconv.Atoi(p.Published)
		if err != nil {
			return spec, fmt.Errorf("published port %q is not a single port", p.Published)
		}
		spec.HostPort = published
	}
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("port-%d", p.Target)
		if strings.EqualFold(p.Protocol, "udp") {
			spec.Name += "-udp"
		}
	}
	return domain.NormalizeEndpointSpec(spec)
}

// applyLabels reads apphost labels and copies the rest into properties.
func applyLabels(decl *Declaration, labels types.Labels) error {
	field := "services." + decl.Name + ".labels"
	for _, k := range sortedKeys(labels) {
		v := labels[k]
		switch {
		case k == LabelParent:
			if err := domain.ValidateName(v); err != nil {
				return NewParseError(field+"."+k, err.Error(), ErrInvalidLabel)
			}
			decl.Parent = v
		case k == LabelHealth:
			hc, err := parseHealthLabel(v, decl.Endpoints)
			if err != nil {
				return NewParseError(field+"."+k, err.Error(), ErrInvalidLabel)
			}
			decl.HealthCheck = hc
		case strings.HasPrefix(k, LabelPrefix):
			return NewParseError(field+"."+k, "unknown apphost label", ErrInvalidLabel)
		default:
			decl.Properties = decl.Properties.With(k, v)
		}
	}
	return nil
}

// parseHealthLabel parses "<endpoint>:<path>".
func parseHealthLabel(v string, endpoints []domain.EndpointSpec) (*domain.HealthCheck, error) {
	name, path, ok := strings.Cut(v, ":")
	if !ok || name == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("expected <endpoint>:/path, got %q", v)
	}
	for _, ep := range endpoints {
		if ep.Name == name {
			return &domain.HealthCheck{Endpoint: name, Path: path}, nil
		}
	}
	return nil, fmt.Errorf("endpoint %q is not declared", name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
