package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer is a throwaway PostgreSQL for the postgres store suites.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// MongoContainer is a throwaway single-node MongoDB for the mongo store suites.
type MongoContainer struct {
	testcontainers.Container
	URI string
}

// MailpitContainer is a Mailpit SMTP sink with its inspection API.
type MailpitContainer struct {
	testcontainers.Container
	SMTPHost string
	SMTPPort int
	APIHost  string
	APIPort  int
}

// NewPostgresContainer starts postgres:16-alpine with a testdb database.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("notify"),
		postgres.WithPassword("notify"),
		testcontainers.WithWaitStrategy(
			// the entrypoint restarts the server once after init
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, ConnectionString: dsn}, nil
}

// NewMongoContainer starts mongo:7 without authentication.
func NewMongoContainer(ctx context.Context) (*MongoContainer, error) {
	container, endpoints, err := startGeneric(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections"),
			wait.ForListeningPort("27017/tcp"),
		).WithDeadline(60 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("start mongo container: %w", err)
	}

	mongo := endpoints["27017/tcp"]
	return &MongoContainer{
		Container: container,
		URI:       fmt.Sprintf("mongodb://%s:%d", mongo.host, mongo.port),
	}, nil
}

// NewMailpitContainer starts Mailpit with SMTP on 1025 and the API on 8025.
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	container, endpoints, err := startGeneric(ctx, testcontainers.ContainerRequest{
		Image:        "ghcr.io/axllent/mailpit:latest",
		ExposedPorts: []string{"1025/tcp", "8025/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("1025/tcp"),
			wait.ForHTTP("/api/v1/info").WithPort("8025/tcp"),
		).WithDeadline(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("start mailpit container: %w", err)
	}

	smtp, api := endpoints["1025/tcp"], endpoints["8025/tcp"]
	return &MailpitContainer{
		Container: container,
		SMTPHost:  smtp.host,
		SMTPPort:  smtp.port,
		APIHost:   api.host,
		APIPort:   api.port,
	}, nil
}

type endpoint struct {
	host string
	port int
}

// startGeneric runs req and resolves the host mapping of every exposed port.
func startGeneric(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, map[string]endpoint, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("container host: %w", err)
	}

	endpoints := make(map[string]endpoint, len(req.ExposedPorts))
	for _, p := range req.ExposedPorts {
		mapped, err := container.MappedPort(ctx, nat.Port(p))
		if err != nil {
			return nil, nil, fmt.Errorf("mapped port %s: %w", p, err)
		}
		endpoints[p] = endpoint{host: host, port: mapped.Int()}
	}

	return container, endpoints, nil
}
