// Package docker talks to the local Docker daemon: it reports host ports
// already published by running containers and starts container resources
// of a plan.
package docker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// API is the part of the Docker SDK client used here.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// =============================================================================
// Docker Client
// =============================================================================

// Client wraps the Docker SDK for one project.
type Client struct {
	api     API
	project string
	logger  *slog.Logger
}

// NewClient connects to the daemon. If host is empty, it uses the default
// Docker host from environment. On macOS with Docker Desktop, it falls back
// to the per-user socket when the default one does not answer.
func NewClient(ctx context.Context, host, project string, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktop, err2 := client.NewClientWithOpts(
			client.WithHost("unix://"+homeDir+"/.docker/run/docker.sock"),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := desktop.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return NewClientWithAPI(desktop, project, logger), nil
			}
			desktop.Close()
		}
	}

	return NewClientWithAPI(cli, project, logger), nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api API, project string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, project: project, logger: logger.With("component", "docker")}
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// =============================================================================
// Host Port Probe
// =============================================================================

// UsedPorts returns the distinct host ports published by running
// containers, in ascending order.
func (c *Client) UsedPorts(ctx context.Context) ([]int, error) {
	containers, err := c.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, NewDockerError("UsedPorts", "container", "", err.Error(), ErrConnectionFailed)
		}
		return nil, NewDockerError("UsedPorts", "container", "", err.Error(), err)
	}

	seen := make(map[int]struct{})
	for _, ctr := range containers {
		for _, p := range ctr.Ports {
			if p.PublicPort == 0 {
				continue
			}
			seen[int(p.PublicPort)] = struct{}{}
		}
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	reader, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewDockerError("PullImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewDockerError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}
