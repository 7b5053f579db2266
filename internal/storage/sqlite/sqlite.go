// Package sqlite реализует резервное хранилище подписок в локальном файле SQLite.
// Используется, когда основная база PostgreSQL недоступна при старте.
// Моменты времени хранятся как миллисекунды Unix (UTC).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Регистрация драйвера sqlite (без cgo).
	_ "modernc.org/sqlite"

	"github.com/magabrotheeeer/subscription-gate/internal/models"
	"github.com/magabrotheeeer/subscription-gate/internal/storage"
)

// Storage хранилище подписок на SQLite.
type Storage struct {
	DB *sql.DB
}

// New открывает (или создаёт) файл базы данных по пути path.
func New(ctx context.Context, path string) (*Storage, error) {
	const op = "storage.sqlite.New"

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Один писатель: SQLite сериализует запись на уровне файла.
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{DB: db}, nil
}

// Upsert создаёт подписку или заменяет срок и тариф существующей.
func (s *Storage) Upsert(ctx context.Context, sub models.Subscription) error {
	const op = "storage.sqlite.Upsert"

	query := `INSERT INTO subscriptions (user_id, expires_at, plan, updated_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE
			  SET expires_at = excluded.expires_at,
			      plan = excluded.plan,
			      updated_at = excluded.updated_at`
	_, err := s.DB.ExecContext(ctx, query, sub.UserID, toMillis(sub.ExpiresAt), sub.Plan, toMillis(time.Now()))
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Lookup возвращает подписку пользователя или storage.ErrNotFound.
func (s *Storage) Lookup(ctx context.Context, userID string) (models.Subscription, error) {
	const op = "storage.sqlite.Lookup"

	var (
		sub     models.Subscription
		expires int64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT user_id, expires_at, plan FROM subscriptions WHERE user_id = ?`, userID).
		Scan(&sub.UserID, &expires, &sub.Plan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return models.Subscription{}, unavailable(op, err)
	}
	sub.ExpiresAt = fromMillis(expires)
	return sub, nil
}

// FindExpiring возвращает подписки, истекающие в интервале (after, until],
// о которых ещё не отправлялось напоминание для текущего срока.
func (s *Storage) FindExpiring(ctx context.Context, after, until time.Time) ([]models.Subscription, error) {
	const op = "storage.sqlite.FindExpiring"

	query := `SELECT user_id, expires_at, plan FROM subscriptions
			  WHERE expires_at > ? AND expires_at <= ?
			  AND (reminded_for IS NULL OR reminded_for <> expires_at)
			  ORDER BY expires_at`
	rows, err := s.DB.QueryContext(ctx, query, toMillis(after), toMillis(until))
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Subscription
	for rows.Next() {
		var (
			sub     models.Subscription
			expires int64
		)
		if err := rows.Scan(&sub.UserID, &expires, &sub.Plan); err != nil {
			return nil, unavailable(op, err)
		}
		sub.ExpiresAt = fromMillis(expires)
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return result, nil
}

// MarkReminded отмечает, что напоминание для срока expiresAt отправлено.
func (s *Storage) MarkReminded(ctx context.Context, userID string, expiresAt time.Time) error {
	const op = "storage.sqlite.MarkReminded"

	_, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions SET reminded_for = expires_at WHERE user_id = ? AND expires_at = ?`,
		userID, toMillis(expiresAt))
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// ClearReminded снимает отметку о напоминании для срока expiresAt.
func (s *Storage) ClearReminded(ctx context.Context, userID string, expiresAt time.Time) error {
	const op = "storage.sqlite.ClearReminded"

	_, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions SET reminded_for = NULL WHERE user_id = ? AND reminded_for = ?`,
		userID, toMillis(expiresAt))
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// CountActive возвращает количество подписок, активных в момент now.
func (s *Storage) CountActive(ctx context.Context, now time.Time) (int, error) {
	const op = "storage.sqlite.CountActive"

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE expires_at > ?`, toMillis(now)).Scan(&count); err != nil {
		return 0, unavailable(op, err)
	}
	return count, nil
}

// PruneExpired удаляет подписки, истёкшие не позже before.
func (s *Storage) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.sqlite.PruneExpired"

	res, err := s.DB.ExecContext(ctx, `DELETE FROM subscriptions WHERE expires_at <= ?`, toMillis(before))
	if err != nil {
		return 0, unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

// Ping проверяет доступность файла базы.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return unavailable("storage.sqlite.Ping", err)
	}
	return nil
}

// Close закрывает базу данных.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}
