package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blentor/blentor/db"
)

// TestDBContainer wraps a PostgreSQL test container with connection pool.
//
// Provides an isolated pgvector-enabled instance with the full schema
// applied through the real embedded migrations.
type TestDBContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL container for testing with the pgvector
// extension and runs the embedded migrations against it.
//
// Skips the test when no container runtime is available.
//
// Example:
//
//	db, cleanup := testutil.SetupTestDB(t)
//	defer cleanup()
//	store := knowledge.NewStore(db.Pool, testutil.DiscardLogger())
func SetupTestDB(t *testing.T) (*TestDBContainer, func()) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := func() (c *postgres.PostgresContainer, err error) {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be discovered; recover so the skip below fires.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("container runtime discovery panicked: %v", r)
			}
		}()
		return postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("blentor_test"),
			postgres.WithUsername("blentor_test"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("Skipping: could not start PostgreSQL container (no container runtime?): %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Exercise the real migration path, embedded SQL included.
	if err := db.Migrate(connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to ping database: %v", err)
	}

	container := &TestDBContainer{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}

	return container, cleanup
}
