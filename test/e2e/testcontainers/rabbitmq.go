package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
)

// RabbitMQConfig holds configuration for the RabbitMQ test container.
type RabbitMQConfig struct {
	// User is the RabbitMQ username (default: guest)
	User string
	// Password is the RabbitMQ password (default: guest)
	Password string
	// ContainerName is the name of the container (optional)
	ContainerName string
}

// StartRabbitMQ starts a RabbitMQ container and returns its AMQP URL.
func StartRabbitMQ(ctx context.Context, config *RabbitMQConfig) (testcontainers.Container, string, error) {
	user, password, name := "guest", "guest", ""
	if config != nil {
		if config.User != "" {
			user = config.User
		}
		if config.Password != "" {
			password = config.Password
		}
		name = config.ContainerName
	}

	container, ep, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   waitForPort("5672/tcp", "Server startup complete"),
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": user,
			"RABBITMQ_DEFAULT_PASS": password,
		},
		Name: name,
	}, "5672")
	if err != nil {
		return nil, "", err
	}
	return container, fmt.Sprintf("amqp://%s:%s@%s/", user, password, ep.Addr()), nil
}
