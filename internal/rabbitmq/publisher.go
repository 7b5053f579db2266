package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-gate/internal/models"
)

// Channel часть amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage сериализует message в JSON и публикует его как постоянное сообщение.
func PublishMessage(ch Channel, exchange string, routingKey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ExpiryPublisher отправляет напоминания об окончании подписки в очередь.
type ExpiryPublisher struct {
	ch Channel
}

// NewExpiryPublisher создает публикатор напоминаний.
func NewExpiryPublisher(ch Channel) *ExpiryPublisher {
	return &ExpiryPublisher{ch: ch}
}

// Notify публикует напоминание; доставка выполняется потребителем очереди.
func (p *ExpiryPublisher) Notify(ctx context.Context, notice models.ExpiryNotice) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq.Notify: %w", err)
	}
	return PublishMessage(p.ch, ExchangeNotifications, RoutingKeyExpiring, notice)
}
