package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/subscription-gate/internal/migrations"
	"github.com/magabrotheeeer/subscription-gate/internal/models"
	"github.com/magabrotheeeer/subscription-gate/internal/storage"
)

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_INTEGRATION_TESTS") != "" {
		t.Skip("skipping postgres integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, migrations.Run(s.DB, migrations.Postgres))
	return s
}

func TestStorage_Integration(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.Lookup(ctx, "100")
	require.ErrorIs(t, err, storage.ErrNotFound)

	first := models.Subscription{UserID: "100", ExpiresAt: now.Add(time.Hour), Plan: models.PlanAutomatedMonthly}
	require.NoError(t, s.Upsert(ctx, first))

	got, err := s.Lookup(ctx, "100")
	require.NoError(t, err)
	assert.True(t, first.ExpiresAt.Equal(got.ExpiresAt))

	second := first
	second.ExpiresAt = now.Add(2 * time.Hour)
	require.NoError(t, s.Upsert(ctx, second))

	got, err = s.Lookup(ctx, "100")
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.Equal(got.ExpiresAt), "upsert must replace expiry")

	expiring, err := s.FindExpiring(ctx, now, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)

	require.NoError(t, s.MarkReminded(ctx, "100", expiring[0].ExpiresAt))
	expiring, err = s.FindExpiring(ctx, now, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expiring)

	count, err := s.CountActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pruned, err := s.PruneExpired(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
