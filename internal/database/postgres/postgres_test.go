//go:build integration

package postgres

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database/storetest"
)

// startPostgres runs a pgvector container and returns a migrated pool.
// The test is skipped when Docker is unavailable.
func startPostgres(t *testing.T) *Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "faces",
				"POSTGRES_PASSWORD": "faces",
				"POSTGRES_DB":       "faces",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	pool, err := Connect(ctx, &config.DatabaseConfig{
		URL: fmt.Sprintf("postgres://faces:faces@%s:%s/faces?sslmode=disable", host, port.Port()),
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pool
}

func TestStore(t *testing.T) {
	pool := startPostgres(t)

	storetest.Run(t, NewStore(pool), storetest.Options{Transactional: true})
}

func TestMigrate_Idempotent(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	versions, err := pool.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if !slices.Contains(versions, "001_initial.sql") {
		t.Fatalf("applied migrations = %v", versions)
	}

	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	again, err := pool.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if !slices.Equal(again, versions) {
		t.Errorf("migrations after rerun = %v, want %v", again, versions)
	}
}
