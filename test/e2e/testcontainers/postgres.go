package testcontainers

import (
	"context"

	"github.com/testcontainers/testcontainers-go"
)

// PostgresConfig holds configuration for the PostgreSQL test container.
type PostgresConfig struct {
	// User is the PostgreSQL username (default: postgres)
	User string
	// Password is the PostgreSQL password (default: postgres)
	Password string
	// Database is the database name (default: facility_test)
	Database string
	// ContainerName is the name of the container (optional)
	ContainerName string
}

func (c *PostgresConfig) withDefaults() PostgresConfig {
	out := PostgresConfig{User: "postgres", Password: "postgres", Database: "facility_test"}
	if c == nil {
		return out
	}
	if c.User != "" {
		out.User = c.User
	}
	if c.Password != "" {
		out.Password = c.Password
	}
	if c.Database != "" {
		out.Database = c.Database
	}
	out.ContainerName = c.ContainerName
	return out
}

// StartPostgres starts a PostgreSQL container. The returned config carries
// the credentials actually used.
func StartPostgres(ctx context.Context, config *PostgresConfig) (testcontainers.Container, Endpoint, PostgresConfig, error) {
	cfg := config.withDefaults()
	container, ep, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   waitForPort("5432/tcp", "database system is ready to accept connections"),
		Env: map[string]string{
			"POSTGRES_USER":     cfg.User,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.Database,
		},
		Name: cfg.ContainerName,
	}, "5432")
	return container, ep, cfg, err
}
