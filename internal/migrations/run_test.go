package migrations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func getTestPostgres(t *testing.T) (*sql.DB, func()) {
	if testing.Short() || os.Getenv("SKIP_INTEGRATION_TESTS") != "" {
		t.Skip("skipping postgres migration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	cleanup := func() {
		_ = db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return db, cleanup
}

func getTestSQLite(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_SQLite(t *testing.T) {
	db := getTestSQLite(t)

	require.NoError(t, Run(db, SQLite))

	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'subscriptions'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "subscriptions", name)

	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_subscriptions_expires_at'`).Scan(&name)
	require.NoError(t, err, "Index should exist")
}

func TestRun_SQLiteIdempotent(t *testing.T) {
	db := getTestSQLite(t)

	require.NoError(t, Run(db, SQLite))
	require.NoError(t, Run(db, SQLite), "Running migrations twice should not fail")
}

func TestRun_UnknownDialect(t *testing.T) {
	db := getTestSQLite(t)
	require.Error(t, Run(db, Dialect("oracle")))
}

func TestRun_Postgres(t *testing.T) {
	db, cleanup := getTestPostgres(t)
	defer cleanup()

	require.NoError(t, Run(db, Postgres))
	require.NoError(t, Run(db, Postgres))

	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'subscriptions'
		)
	`).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists, "Table 'subscriptions' should exist")

	err = db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public'
			AND tablename = 'subscriptions'
			AND indexname = 'idx_subscriptions_expires_at'
		)
	`).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists, "Index should exist")
}
