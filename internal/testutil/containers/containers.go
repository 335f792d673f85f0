//go:build integration

// Package containers starts the Tenant Store backends in Docker for the
// integration suites. It is compiled only with the "integration" tag.
//
// Tests usually go through [Run], which terminates the container when the
// test finishes:
//
//	backend := containers.Run(t, containers.StartRedis)
//	client, err := redis.NewClient(ctx, redis.Config{URI: backend.URI})
package containers

import (
	"context"
	"fmt"
	"testing"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// Images and credentials. The credentials only suit throwaway containers.
const (
	PostgresImage    = "docker.io/postgres:16-alpine"
	PostgresDatabase = "para_test"
	PostgresUser     = "para"
	PostgresPassword = "para-test-password"

	RedisImage = "docker.io/redis:7-alpine"

	MinIOImage     = "docker.io/minio/minio:latest"
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
)

// Backend is a running store service.
type Backend struct {
	// URI is a postgres:// or redis:// connection string, or the host:port
	// endpoint of MinIO.
	URI string

	// AccessKey and SecretKey are set for MinIO only.
	AccessKey string
	SecretKey string

	terminate func(context.Context) error
}

// Terminate stops and removes the container.
func (b *Backend) Terminate(ctx context.Context) error {
	if b == nil || b.terminate == nil {
		return nil
	}
	return b.terminate(ctx)
}

// Starter starts one kind of backend.
type Starter func(ctx context.Context) (*Backend, error)

// Run starts a backend or fails the test, and terminates it on cleanup.
func Run(t testing.TB, start Starter) *Backend {
	t.Helper()
	ctx := context.Background()
	backend, err := start(ctx)
	if err != nil {
		t.Fatalf("containers: %v", err)
	}
	t.Cleanup(func() {
		if err := backend.Terminate(ctx); err != nil {
			t.Logf("containers: terminate failed: %v", err)
		}
	})
	return backend
}

// started resolves the connection string of a container, terminating it
// if that fails.
func started(ctx context.Context, name string, terminate func(context.Context) error,
	uri func(context.Context) (string, error)) (*Backend, error) {
	conn, err := uri(ctx)
	if err != nil {
		_ = terminate(ctx)
		return nil, fmt.Errorf("%s connection string: %w", name, err)
	}
	return &Backend{URI: conn, terminate: terminate}, nil
}

// StartPostgres starts PostgreSQL 16. The URI carries sslmode=disable.
func StartPostgres(ctx context.Context) (*Backend, error) {
	c, err := tcpostgres.Run(ctx,
		PostgresImage,
		tcpostgres.WithDatabase(PostgresDatabase),
		tcpostgres.WithUsername(PostgresUser),
		tcpostgres.WithPassword(PostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	return started(ctx, "postgres", func(ctx context.Context) error { return c.Terminate(ctx) },
		func(ctx context.Context) (string, error) { return c.ConnectionString(ctx, "sslmode=disable") })
}

// StartRedis starts an unauthenticated Redis 7.
func StartRedis(ctx context.Context) (*Backend, error) {
	c, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}
	return started(ctx, "redis", func(ctx context.Context) error { return c.Terminate(ctx) }, c.ConnectionString)
}

// StartMinIO starts MinIO with the root credentials above.
func StartMinIO(ctx context.Context) (*Backend, error) {
	c, err := tcminio.Run(ctx,
		MinIOImage,
		tcminio.WithUsername(MinIOAccessKey),
		tcminio.WithPassword(MinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("start minio: %w", err)
	}
	b, err := started(ctx, "minio", func(ctx context.Context) error { return c.Terminate(ctx) }, c.ConnectionString)
	if err != nil {
		return nil, err
	}
	b.AccessKey, b.SecretKey = MinIOAccessKey, MinIOSecretKey
	return b, nil
}
