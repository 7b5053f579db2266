// Package services содержит фоновую задачу обслуживания подписок:
// напоминания об окончании, учёт активных подписок и очистку старых записей.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
	"github.com/magabrotheeeer/subscription-gate/internal/models"
)

// SubscriptionRepository методы хранилища, используемые при обслуживании.
type SubscriptionRepository interface {
	FindExpiring(ctx context.Context, after, until time.Time) ([]models.Subscription, error)
	MarkReminded(ctx context.Context, userID string, expiresAt time.Time) error
	CountActive(ctx context.Context, now time.Time) (int, error)
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// Notifier доставляет напоминание об окончании подписки.
type Notifier interface {
	Notify(ctx context.Context, notice models.ExpiryNotice) error
}

// SchedulerService выполняет одну итерацию обслуживания.
type SchedulerService struct {
	repo      SubscriptionRepository
	notifier  Notifier
	log       *slog.Logger
	lead      time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService.
// Нулевой lead отключает напоминания, нулевой retention отключает очистку.
func NewSchedulerService(repo SubscriptionRepository, notifier Notifier, lead, retention time.Duration, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		repo:      repo,
		notifier:  notifier,
		log:       log,
		lead:      lead,
		retention: retention,
		now:       time.Now,
	}
}

// RunOnce выполняет все шаги обслуживания. Ошибка одного шага не отменяет остальные.
func (s *SchedulerService) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	var errs []error

	if err := s.sendReminders(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := s.refreshActive(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := s.pruneExpired(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *SchedulerService) sendReminders(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.sendReminders"
	if s.lead <= 0 || s.notifier == nil {
		return nil
	}

	subs, err := s.repo.FindExpiring(ctx, now, now.Add(s.lead))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(subs) == 0 {
		s.log.Debug("no expiring subscriptions found")
		return nil
	}
	s.log.Info("found expiring subscriptions", slog.Int("count", len(subs)))

	var failed int
	for _, sub := range subs {
		notice := models.ExpiryNotice{UserID: sub.UserID, ExpiresAt: sub.ExpiresAt, Plan: sub.Plan}
		if err := s.notifier.Notify(ctx, notice); err != nil {
			failed++
			s.log.Error("failed to send expiry notice", slog.String("user_id", sub.UserID), sl.Err(err))
			continue
		}
		if err := s.repo.MarkReminded(ctx, sub.UserID, sub.ExpiresAt); err != nil {
			failed++
			s.log.Error("failed to mark notice as sent", slog.String("user_id", sub.UserID), sl.Err(err))
			continue
		}
		metrics.RemindersSent.Inc()
	}
	if failed > 0 {
		return fmt.Errorf("%s: %d of %d notices failed", op, failed, len(subs))
	}
	return nil
}

func (s *SchedulerService) refreshActive(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.refreshActive"

	count, err := s.repo.CountActive(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ActiveSubscriptions.Set(float64(count))
	return nil
}

func (s *SchedulerService) pruneExpired(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.pruneExpired"
	if s.retention <= 0 {
		return nil
	}

	n, err := s.repo.PruneExpired(ctx, now.Add(-s.retention))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		s.log.Info("pruned expired subscriptions", slog.Int64("count", n))
	}
	return nil
}
