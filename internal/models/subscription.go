// Package models содержит доменные структуры подписки, общие для хранилища,
// сервисов и транспорта.
package models

import "time"

// PlanAutomatedMonthly тариф, который выдаётся после проверки баланса.
const PlanAutomatedMonthly = "automated_monthly"

// Subscription запись о подписке пользователя Telegram.
// Подписка активна, пока ExpiresAt строго позже текущего момента.
type Subscription struct {
	UserID    string    // Идентификатор пользователя Telegram в десятичной записи
	ExpiresAt time.Time // Момент окончания подписки (UTC)
	Plan      string    // Название тарифа
}

// ActiveAt сообщает, активна ли подписка в момент now.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// ExpiryNotice напоминание о скором окончании подписки.
type ExpiryNotice struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Plan      string    `json:"plan"`
}
