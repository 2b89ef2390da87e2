// Package testcontainers starts the backing services used by the e2e suites.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Endpoint is the host-side address of a container port.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// start runs req and resolves the mapped address of port. The container
// is terminated when the address cannot be resolved.
func start(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, Endpoint, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, Endpoint{}, fmt.Errorf("failed to start %s container: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, Endpoint{}, terminate(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return nil, Endpoint{}, terminate(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}
	return container, Endpoint{Host: host, Port: mapped.Int()}, nil
}

func terminate(ctx context.Context, c testcontainers.Container, cause error) error {
	if err := c.Terminate(ctx); err != nil {
		return fmt.Errorf("%w (cleanup error: %w)", cause, err)
	}
	return cause
}

func waitForPort(port, logLine string) wait.Strategy {
	return wait.ForAll(
		wait.ForListeningPort(port),
		wait.ForLog(logLine),
	)
}
