//go:build integration

// Integration tests for the PostgreSQL Tenant Store against a real
// PostgreSQL container. Run locally with:
//
//	go test -v -race -tags=integration ./pkg/clients/postgres/...
package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/StricklySoft/paragate/internal/testutil/containers"
	"github.com/StricklySoft/paragate/internal/testutil/daotest"
	"github.com/StricklySoft/paragate/pkg/clients/postgres"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// setupStore starts a PostgreSQL container and returns a migrated store.
// The container and client are cleaned up when the test completes.
func setupStore(t *testing.T) (*postgres.Store, *postgres.Client, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	backend := containers.Run(t, containers.StartPostgres)

	cfg := postgres.Config{
		URI:         backend.URI,
		MaxConns:    5,
		MinConns:    1,
		AutoMigrate: true,
	}
	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := postgres.NewStore(ctx, client)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, client, backend.URI
}

func TestIntegration_Store(t *testing.T) {
	store, _, connString := setupStore(t)
	ctx := context.Background()

	t.Run("Health", func(t *testing.T) {
		if err := store.Health(ctx); err != nil {
			t.Errorf("Health() error: %v", err)
		}
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := store.Migrate(ctx); err != nil {
			t.Errorf("Migrate() error: %v", err)
		}
	})

	t.Run("Contract", func(t *testing.T) {
		daotest.Run(t, store)
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		const appid, workers = "pg-concurrent", 16
		counter := models.NewRecord("counter").Set("n", 0)
		counter.SetID("c")
		if _, err := store.Create(ctx, appid, counter); err != nil {
			t.Fatalf("Create() error: %v", err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				patch := models.NewRecord("counter").Set(fmt.Sprintf("w%02d", i), true)
				patch.SetID("c")
				errs <- store.Update(ctx, appid, patch)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("Update() error: %v", err)
			}
		}

		obj, ok, err := store.Read(ctx, appid, "c")
		if err != nil || !ok {
			t.Fatalf("Read() = %v, %v, %v", obj, ok, err)
		}
		rec, isRecord := obj.(*models.Record)
		if !isRecord {
			t.Fatalf("Read() type = %T, want *models.Record", obj)
		}
		// Row locks serialize the merges, so exactly one writer's properties
		// survive intact.
		if len(rec.Properties) != 1 {
			t.Errorf("Properties = %v, want a single writer's value", rec.Properties)
		}
		if rec.GetAppID() != appid || rec.GetTimestamp().IsZero() {
			t.Errorf("locked fields changed: appid %q, timestamp %v", rec.GetAppID(), rec.GetTimestamp())
		}
	})

	t.Run("ClosedPoolIsStoreFailure", func(t *testing.T) {
		client, err := postgres.NewClient(ctx, postgres.Config{URI: connString, MaxConns: 2, MinConns: 1})
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		closed, err := postgres.NewStore(ctx, client)
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		client.Close()

		guarded := dao.NewGuarded(closed, dao.BreakerConfig{Failures: 1}, nil)
		if _, _, err := guarded.Read(ctx, "para", models.AppKey("app1")); !sserr.IsStoreFailure(err) {
			t.Errorf("Read() error = %v, want a store failure", err)
		}
		if _, _, err := guarded.Read(ctx, "para", models.AppKey("app1")); !sserr.HasCode(err, sserr.CodeStoreCircuitOpen) {
			t.Errorf("Read() error = %v, want %s", err, sserr.CodeStoreCircuitOpen)
		}
	})
}
