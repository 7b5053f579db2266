// Package repository реализует хранилище подписок на основе PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/subscription-gate/internal/models"
	"github.com/magabrotheeeer/subscription-gate/internal/storage"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// NewWithDB оборачивает уже открытое соединение.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{DB: db}
}

// Upsert создаёт подписку или заменяет срок и тариф существующей.
func (s *Storage) Upsert(ctx context.Context, sub models.Subscription) error {
	const op = "storage.Upsert"

	query := `INSERT INTO subscriptions (user_id, expires_at, plan, updated_at)
			  VALUES ($1, $2, $3, now())
			  ON CONFLICT (user_id) DO UPDATE
			  SET expires_at = EXCLUDED.expires_at,
			      plan = EXCLUDED.plan,
			      updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, sub.UserID, sub.ExpiresAt.UTC(), sub.Plan); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Lookup возвращает подписку пользователя или storage.ErrNotFound.
func (s *Storage) Lookup(ctx context.Context, userID string) (models.Subscription, error) {
	const op = "storage.Lookup"

	query := `SELECT user_id, expires_at, plan FROM subscriptions WHERE user_id = $1`
	var sub models.Subscription
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&sub.UserID, &sub.ExpiresAt, &sub.Plan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return models.Subscription{}, unavailable(op, err)
	}
	sub.ExpiresAt = sub.ExpiresAt.UTC()
	return sub, nil
}

// FindExpiring возвращает подписки, истекающие в интервале (after, until],
// о которых ещё не отправлялось напоминание для текущего срока.
func (s *Storage) FindExpiring(ctx context.Context, after, until time.Time) ([]models.Subscription, error) {
	const op = "storage.FindExpiring"

	query := `SELECT user_id, expires_at, plan FROM subscriptions
			  WHERE expires_at > $1 AND expires_at <= $2
			  AND reminded_for IS DISTINCT FROM expires_at
			  ORDER BY expires_at`
	rows, err := s.DB.QueryContext(ctx, query, after.UTC(), until.UTC())
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.UserID, &sub.ExpiresAt, &sub.Plan); err != nil {
			return nil, unavailable(op, err)
		}
		sub.ExpiresAt = sub.ExpiresAt.UTC()
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return result, nil
}

// MarkReminded отмечает, что напоминание для срока expiresAt отправлено.
// Если подписку успели продлить, запись не меняется.
func (s *Storage) MarkReminded(ctx context.Context, userID string, expiresAt time.Time) error {
	const op = "storage.MarkReminded"

	query := `UPDATE subscriptions SET reminded_for = expires_at
			  WHERE user_id = $1 AND expires_at = $2`
	if _, err := s.DB.ExecContext(ctx, query, userID, expiresAt.UTC()); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// ClearReminded снимает отметку о напоминании для срока expiresAt,
// чтобы следующая итерация обслуживания отправила его снова.
func (s *Storage) ClearReminded(ctx context.Context, userID string, expiresAt time.Time) error {
	const op = "storage.ClearReminded"

	query := `UPDATE subscriptions SET reminded_for = NULL
			  WHERE user_id = $1 AND reminded_for = $2`
	if _, err := s.DB.ExecContext(ctx, query, userID, expiresAt.UTC()); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// CountActive возвращает количество подписок, активных в момент now.
func (s *Storage) CountActive(ctx context.Context, now time.Time) (int, error) {
	const op = "storage.CountActive"

	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE expires_at > $1`, now.UTC()).Scan(&count)
	if err != nil {
		return 0, unavailable(op, err)
	}
	return count, nil
}

// PruneExpired удаляет подписки, истёкшие не позже before, и возвращает их количество.
func (s *Storage) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.PruneExpired"

	res, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

// Ping проверяет доступность базы данных.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return unavailable("storage.Ping", err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}
