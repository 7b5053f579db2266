// Package services содержит бизнес-логику подписки: проверку доступа,
// выдачу подписки и оформление по балансу кошелька.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/keylock"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
	"github.com/magabrotheeeer/subscription-gate/internal/models"
	verifierservice "github.com/magabrotheeeer/subscription-gate/internal/services/verifier"
	"github.com/magabrotheeeer/subscription-gate/internal/storage"
)

// MaxDays наибольший срок подписки в днях.
const MaxDays = 36500

var (
	// ErrInvalidDays срок подписки должен быть в пределах от 1 до MaxDays.
	ErrInvalidDays = errors.New("subscription days out of range")
	// ErrStoreUnavailable хранилище подписок недоступно.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
)

// SubscriptionRepository определяет методы хранилища, которые нужны сервису.
type SubscriptionRepository interface {
	// Upsert создаёт запись или заменяет срок и тариф существующей.
	Upsert(ctx context.Context, sub models.Subscription) error
	// Lookup возвращает запись пользователя или storage.ErrNotFound.
	Lookup(ctx context.Context, userID string) (models.Subscription, error)
}

// Verifier проверяет оплату по балансу кошелька.
type Verifier interface {
	Verify(ctx context.Context, address string, minimum *big.Rat) verifierservice.Result
}

// Status состояние подписки пользователя на момент проверки.
type Status struct {
	Active    bool
	Exists    bool      // запись есть, даже если срок истёк
	ExpiresAt time.Time // заполнено, если Exists
}

// Outcome результат оформления подписки.
type Outcome int

const (
	// Granted подписка выдана.
	Granted Outcome = iota + 1
	// AlreadyActive подписка уже активна, повторная проверка не выполнялась.
	AlreadyActive
	// PaymentInsufficient проверка оплаты не пройдена, запись не менялась.
	PaymentInsufficient
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case AlreadyActive:
		return "already_active"
	case PaymentInsufficient:
		return "payment_insufficient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SubscribeResult результат TrySubscribe.
type SubscribeResult struct {
	Outcome      Outcome
	ExpiresAt    time.Time              // для Granted и AlreadyActive
	Verification verifierservice.Result // для Granted и PaymentInsufficient
}

// SubscriptionService реализует проверку доступа и выдачу подписки.
// Состояние подписки не кешируется: каждая проверка читает хранилище.
type SubscriptionService struct {
	repo     SubscriptionRepository
	verifier Verifier
	log      *slog.Logger
	plan     string
	now      func() time.Time
	locks    keylock.Locker[string]
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
func NewSubscriptionService(repo SubscriptionRepository, verifier Verifier, plan string, log *slog.Logger) *SubscriptionService {
	if plan == "" {
		plan = models.PlanAutomatedMonthly
	}
	return &SubscriptionService{
		repo:     repo,
		verifier: verifier,
		log:      log,
		plan:     plan,
		now:      time.Now,
	}
}

// Status возвращает состояние подписки. Отсутствие записи ошибкой не считается.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (Status, error) {
	const op = "services.subscription.Status"

	sub, err := s.repo.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return Status{
		Active:    sub.ActiveAt(s.now()),
		Exists:    true,
		ExpiresAt: sub.ExpiresAt,
	}, nil
}

// IsEntitled сообщает, есть ли у пользователя активная подписка.
// Недоступность хранилища означает отказ и логируется отдельно.
func (s *SubscriptionService) IsEntitled(ctx context.Context, userID string) bool {
	st, err := s.Status(ctx, userID)
	if err != nil {
		s.log.Error("entitlement check failed: store outage",
			slog.String("user_id", userID), sl.Err(err))
		metrics.EntitlementChecks.WithLabelValues("outage").Inc()
		return false
	}
	if !st.Active {
		metrics.EntitlementChecks.WithLabelValues("denied").Inc()
		return false
	}
	metrics.EntitlementChecks.WithLabelValues("allowed").Inc()
	return true
}

// Grant выдаёт подписку на days дней начиная с текущего момента.
// Предыдущий срок не суммируется, а заменяется.
func (s *SubscriptionService) Grant(ctx context.Context, userID string, days int) (models.Subscription, error) {
	const op = "services.subscription.Grant"

	if !validDays(days) {
		return models.Subscription{}, fmt.Errorf("%s: %w: %d", op, ErrInvalidDays, days)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	sub := models.Subscription{
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(time.Duration(days) * 24 * time.Hour).Truncate(time.Millisecond),
		Plan:      s.plan,
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return models.Subscription{}, fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	metrics.Grants.Inc()
	s.log.Info("granted subscription",
		slog.String("user_id", userID),
		slog.Time("expires_at", sub.ExpiresAt),
		slog.Int("days", days))
	return sub, nil
}

// TrySubscribe оформляет подписку: если она активна, ничего не делает;
// иначе проверяет оплату и только при успехе выдаёт подписку.
func (s *SubscriptionService) TrySubscribe(ctx context.Context, userID, address string, minimum *big.Rat, days int) (SubscribeResult, error) {
	const op = "services.subscription.TrySubscribe"

	if !validDays(days) {
		return SubscribeResult{}, fmt.Errorf("%s: %w: %d", op, ErrInvalidDays, days)
	}

	st, err := s.Status(ctx, userID)
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if st.Active {
		return SubscribeResult{Outcome: AlreadyActive, ExpiresAt: st.ExpiresAt}, nil
	}

	verification := s.verifier.Verify(ctx, address, minimum)
	if !verification.OK() {
		s.log.Info("payment verification failed",
			slog.String("user_id", userID),
			slog.String("outcome", verification.Outcome.String()))
		return SubscribeResult{Outcome: PaymentInsufficient, Verification: verification}, nil
	}

	sub, err := s.Grant(ctx, userID, days)
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return SubscribeResult{Outcome: Granted, ExpiresAt: sub.ExpiresAt, Verification: verification}, nil
}

func validDays(days int) bool {
	return days > 0 && days <= MaxDays
}
