//go:build integration

// Package pgtest starts a disposable PostgreSQL container for integration tests.
package pgtest

import (
	"context"
	"fmt"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a running Postgres instance.
type Container struct {
	DSN string
	c   tc.Container
}

// Start launches postgres:16-alpine and returns its DSN once the port is open.
func Start(ctx context.Context) (*Container, error) {
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "handoff_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	return &Container{
		DSN: fmt.Sprintf("postgres://postgres:password@%s:%s/handoff_test?sslmode=disable", host, port.Port()),
		c:   c,
	}, nil
}

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	return c.c.Terminate(ctx)
}
