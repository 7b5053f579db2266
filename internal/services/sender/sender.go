// Package services содержит отправку уведомлений пользователям в Telegram.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/models"
)

// ExpiryLayout формат срока подписки в сообщениях пользователю.
const ExpiryLayout = "2006-01-02 15:04 UTC"

// Messenger отправляет текстовое сообщение в чат.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ReminderStore снимает отметку о напоминании, которое не удалось доставить.
type ReminderStore interface {
	ClearReminded(ctx context.Context, userID string, expiresAt time.Time) error
}

// SenderService доставляет напоминания об окончании подписки.
type SenderService struct {
	messenger Messenger
	reminders ReminderStore
	log       *slog.Logger
	timeout   time.Duration
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(messenger Messenger, timeout time.Duration, log *slog.Logger) *SenderService {
	return &SenderService{
		messenger: messenger,
		log:       log,
		timeout:   timeout,
	}
}

// WithReminders подключает хранилище, в котором снимается отметка
// о недоставленных напоминаниях.
func (s *SenderService) WithReminders(reminders ReminderStore) *SenderService {
	s.reminders = reminders
	return s
}

// Notify отправляет напоминание пользователю напрямую.
func (s *SenderService) Notify(ctx context.Context, notice models.ExpiryNotice) error {
	const op = "services.sender.Notify"

	chatID, err := strconv.ParseInt(notice.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid user id %q: %w", op, notice.UserID, err)
	}

	if err := s.messenger.SendText(ctx, chatID, ExpiringText(notice.ExpiresAt)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("expiry notice sent", slog.String("user_id", notice.UserID))
	return nil
}

// SendExpiringNotice обрабатывает сообщение из очереди напоминаний.
func (s *SenderService) SendExpiringNotice(body []byte) error {
	var notice models.ExpiryNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		s.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.Notify(ctx, notice)
}

// ReleaseNotice вызывается для сообщения, отброшенного очередью. Отметка
// о напоминании снимается, и следующая итерация обслуживания отправит его снова.
func (s *SenderService) ReleaseNotice(body []byte) {
	const op = "services.sender.ReleaseNotice"
	if s.reminders == nil {
		return
	}

	var notice models.ExpiryNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		s.log.Error("failed to unmarshal dropped notice", sl.Op(op), sl.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.reminders.ClearReminded(ctx, notice.UserID, notice.ExpiresAt); err != nil {
		s.log.Error("failed to release expiry notice", sl.Op(op), slog.String("user_id", notice.UserID), sl.Err(err))
		return
	}
	s.log.Warn("expiry notice dropped, will retry", slog.String("user_id", notice.UserID))
}

// ExpiringText текст напоминания о скором окончании подписки.
func ExpiringText(expiresAt time.Time) string {
	return fmt.Sprintf("⏳ Your premium subscription expires on %s.\n"+
		"Use /subscribe <wallet> after it ends to renew access.",
		expiresAt.UTC().Format(ExpiryLayout))
}
