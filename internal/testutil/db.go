package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/ticket-processor/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testDBLockID int64 = 801234568

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// DatabaseURL returns TEST_DATABASE_URL, or starts a throwaway Postgres
// container when TEST_CONTAINERS=1. Otherwise the test is skipped.
func DatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	if os.Getenv("TEST_CONTAINERS") != "1" {
		t.Skip("skipping Postgres integration tests: set TEST_DATABASE_URL or TEST_CONTAINERS=1")
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		// Reaped by the testcontainers sidecar when the test binary exits.
		c, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("ticket_processor_test"),
			postgres.WithUsername("test_user"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerURL, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("skipping Postgres integration tests: %v", containerErr)
	}
	return containerURL
}

// NewTestPool connects to the test database, applies migrations and holds a
// session lock so packages running in parallel do not truncate each other.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := DatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrations.Apply(dsn); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	lockTestDB(t, pool)
	return pool
}

func TruncateAll(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `TRUNCATE outbox, purchases, reservations, ticket_types, events RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func InsertEvent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string) string {
	t.Helper()
	var id string
	if err := pool.QueryRow(ctx,
		`INSERT INTO events (name, starts_at) VALUES ($1, NOW()) RETURNING id`,
		name,
	).Scan(&id); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return id
}

func InsertTicketType(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventID, name string, price int64, capacity int) string {
	t.Helper()
	var id string
	if err := pool.QueryRow(ctx,
		`INSERT INTO ticket_types (event_id, name, price, capacity) VALUES ($1, $2, $3, $4) RETURNING id`,
		eventID, name, price, capacity,
	).Scan(&id); err != nil {
		t.Fatalf("insert ticket type: %v", err)
	}
	return id
}

func lockTestDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, testDBLockID); err != nil {
		conn.Release()
		t.Fatalf("acquire test lock: %v", err)
	}

	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, testDBLockID)
		conn.Release()
	})
}
