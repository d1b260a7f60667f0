package stacks

import (
	"context"
	"strconv"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/topology"
)

func tcp(name string, hostPort, targetPort int) domain.EndpointSpec {
	return domain.EndpointSpec{Name: name, Scheme: "tcp", TargetPort: targetPort, HostPort: hostPort}
}

func grpc(targetPort int) domain.EndpointSpec {
	return domain.EndpointSpec{Name: "grpc", Scheme: "http", TargetPort: targetPort}
}

// hostPort resolves to the bare host port of ref.
func hostPort(ref *topology.EndpointRef) *topology.Deferred {
	return topology.Defer(func(context.Context) (string, error) {
		ep, err := ref.Endpoint()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(ep.HostPort), nil
	}, ref)
}
