package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
)

// Acknowledger подтверждение доставки (реализуется amqp.Delivery).
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// ConsumerMessage запускает обработку сообщений очереди queueName.
// Одновременно обрабатывается не больше prefetch сообщений.
// Сообщение, которое не удалось обработать, возвращается в очередь один раз;
// после второй неудачи оно отбрасывается и передаётся в dropped (может быть nil).
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, handler func([]byte) error, dropped func([]byte), log *slog.Logger) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go dispatchDeliveries(ctx, delivery, prefetch, handler, dropped, log)
	return nil
}

// dispatchDeliveries обрабатывает доставки не более чем в limit горутинах
// и возвращается после отмены ctx или закрытия канала.
func dispatchDeliveries(ctx context.Context, delivery <-chan amqp.Delivery, limit int, handler func([]byte) error, dropped func([]byte), log *slog.Logger) {
	sem := make(chan struct{}, limit)
	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				handleDelivery(&d, d.Body, d.Redelivered, handler, dropped, log)
			}(d)
		case <-ctx.Done():
			return
		}
	}
}

func handleDelivery(ack Acknowledger, body []byte, redelivered bool, handler func([]byte) error, dropped func([]byte), log *slog.Logger) {
	if err := handler(body); err != nil {
		requeue := !redelivered
		log.Warn("failed to handle message", slog.Bool("requeue", requeue), sl.Err(err))
		if nackErr := ack.Nack(false, requeue); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		if !requeue && dropped != nil {
			dropped(body)
		}
		return
	}
	if ackErr := ack.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
