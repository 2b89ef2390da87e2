package testcontainers

import (
	"context"

	"github.com/testcontainers/testcontainers-go"
)

// StartRedis starts a Redis container and returns its address.
func StartRedis(ctx context.Context) (testcontainers.Container, string, error) {
	container, ep, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   waitForPort("6379/tcp", "Ready to accept connections"),
	}, "6379")
	if err != nil {
		return nil, "", err
	}
	return container, ep.Addr(), nil
}
