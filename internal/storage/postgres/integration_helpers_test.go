package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// openPostgresStoreForIntegrationTest открывает базу из CHECKOUT_POSTGRES_TEST_DSN
// либо поднимает контейнер postgres, применяет миграции и чистит таблицы.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres integration tests are skipped in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("checkout"),
			tcpostgres.WithUsername("checkout"),
			tcpostgres.WithPassword("checkout"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("terminate postgres container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("postgres connection string: %v", err)
		}
	}

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			order_items,
			orders,
			users,
			carts,
			products
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}

	return store
}
