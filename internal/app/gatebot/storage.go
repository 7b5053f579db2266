package gatebot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/config"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/migrations"
	"github.com/magabrotheeeer/subscription-gate/internal/models"
	"github.com/magabrotheeeer/subscription-gate/internal/storage/repository"
	"github.com/magabrotheeeer/subscription-gate/internal/storage/sqlite"
)

const connectTimeout = 10 * time.Second

// Store хранилище подписок, общее для PostgreSQL и SQLite.
type Store interface {
	Upsert(ctx context.Context, sub models.Subscription) error
	Lookup(ctx context.Context, userID string) (models.Subscription, error)
	FindExpiring(ctx context.Context, after, until time.Time) ([]models.Subscription, error)
	MarkReminded(ctx context.Context, userID string, expiresAt time.Time) error
	ClearReminded(ctx context.Context, userID string, expiresAt time.Time) error
	CountActive(ctx context.Context, now time.Time) (int, error)
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// sqliteTarget возвращает путь к файлу SQLite, если строка подключения
// явно указывает на него.
func sqliteTarget(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	default:
		return "", false
	}
}

// openStorage открывает основное хранилище и применяет миграции.
// Если PostgreSQL недоступен, используется локальный файл SQLite.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (Store, string, error) {
	if path, ok := sqliteTarget(cfg.StorageConnectionString); ok {
		store, err := openSQLite(ctx, path)
		return store, "sqlite", err
	}

	store, err := openPostgres(ctx, cfg.StorageConnectionString)
	if err == nil {
		return store, "postgres", nil
	}
	log.Warn("postgres unavailable, falling back to sqlite",
		slog.String("path", cfg.FallbackStoragePath),
		sl.Err(err),
	)

	fallback, err := openSQLite(ctx, cfg.FallbackStoragePath)
	return fallback, "sqlite", err
}

func openPostgres(ctx context.Context, dsn string) (Store, error) {
	const op = "gatebot.openPostgres"

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := repository.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := migrations.Run(store.DB, migrations.Postgres); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}

func openSQLite(ctx context.Context, path string) (Store, error) {
	const op = "gatebot.openSQLite"

	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := migrations.Run(store.DB, migrations.SQLite); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}
