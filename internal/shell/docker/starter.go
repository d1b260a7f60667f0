package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/apphost/internal/core/domain"
)

// Labels set on every container started for a plan.
const (
	LabelManaged  = "apphost.managed"
	LabelProject  = "apphost.project"
	LabelResource = "apphost.resource"
)

// ContainerName returns the daemon-side name of a resource.
func (c *Client) ContainerName(resource string) string {
	if c.project == "" {
		return resource
	}
	return c.project + "-" + resource
}

// Start creates and starts the container of res. An existing container
// with the same name is reused. A missing image is pulled once.
func (c *Client) Start(ctx context.Context, res domain.ResourcePlan) error {
	if res.Kind != domain.KindContainer {
		return NewDockerError("Start", "container", res.Name, "not a container resource", ErrNotAContainer)
	}
	config, hostConfig, err := c.containerConfig(res)
	if err != nil {
		return err
	}
	name := c.ContainerName(res.Name)

	id, err := c.create(ctx, name, config, hostConfig)
	if client.IsErrNotFound(err) {
		c.logger.Info("pulling image", "resource", res.Name, "image", res.Image)
		if pullErr := c.PullImage(ctx, res.Image); pullErr != nil {
			return pullErr
		}
		id, err = c.create(ctx, name, config, hostConfig)
	}
	if err != nil {
		if !strings.Contains(err.Error(), "Conflict") {
			if strings.Contains(err.Error(), "port is already allocated") {
				return NewDockerError("Start", "container", name, err.Error(), ErrPortAlreadyAllocated)
			}
			return NewDockerError("Start", "container", name, err.Error(), err)
		}
		c.logger.Debug("reusing existing container", "resource", res.Name, "container", name)
		id = name
	}

	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if strings.Contains(err.Error(), "is already running") {
			return nil
		}
		if client.IsErrNotFound(err) {
			return NewDockerError("Start", "container", name, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("Start", "container", name, err.Error(), err)
	}
	c.logger.Info("container started", "resource", res.Name, "container", name)
	return nil
}

func (c *Client) create(ctx context.Context, name string, config *container.Config, hostConfig *container.HostConfig) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// containerConfig converts a resource plan into daemon configuration.
func (c *Client) containerConfig(res domain.ResourcePlan) (*container.Config, *container.HostConfig, error) {
	config := &container.Config{
		Image: res.Image,
		Cmd:   res.Args,
		Labels: map[string]string{
			LabelManaged:  "true",
			LabelProject:  c.project,
			LabelResource: res.Name,
		},
	}
	for _, env := range res.Environment {
		config.Env = append(config.Env, env.Key+"="+env.Value)
	}

	hostConfig := &container.HostConfig{}
	if len(res.Endpoints) > 0 {
		exposed := nat.PortSet{}
		bindings := nat.PortMap{}
		for _, ep := range res.Endpoints {
			port, err := nat.NewPort(ep.Protocol, strconv.Itoa(ep.TargetPort))
			if err != nil {
				return nil, nil, NewDockerError("Start", "container", res.Name,
					fmt.Sprintf("endpoint %s: %v", ep.Name, err), domain.ErrInvalidEndpoint)
			}
			exposed[port] = struct{}{}
			binding := nat.PortBinding{}
			if ep.HostPort != 0 {
				binding.HostPort = strconv.Itoa(ep.HostPort)
			}
			bindings[port] = append(bindings[port], binding)
		}
		config.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}

	for _, v := range res.Volumes {
		m, err := parseMount(v)
		if err != nil {
			return nil, nil, NewDockerError("Start", "container", res.Name, err.Error(), err)
		}
		hostConfig.Mounts = append(hostConfig.Mounts, m)
	}
	return config, hostConfig, nil
}

// parseMount reads "source:target[:ro]". Absolute sources are bind
// mounts, anything else is a named volume.
func parseMount(spec string) (mount.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return mount.Mount{}, fmt.Errorf("invalid volume %q", spec)
	}
	m := mount.Mount{Source: parts[0], Target: parts[1], Type: mount.TypeVolume}
	if strings.HasPrefix(m.Source, "/") || strings.HasPrefix(m.Source, ".") {
		m.Type = mount.TypeBind
	}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return mount.Mount{}, fmt.Errorf("invalid volume mode %q", parts[2])
		}
		m.ReadOnly = true
	}
	return m, nil
}
