package rabbitmq

const (
	// ExchangeNotifications exchange для всех уведомлений бота.
	ExchangeNotifications = "notifications"
	// QueueExpiring очередь напоминаний о скором окончании подписки.
	QueueExpiring = "notifications.expiring"
	// RoutingKeyExpiring ключ маршрутизации напоминаний.
	RoutingKeyExpiring = "expiring"

	prefetch = 10
)

// QueueConfig очередь и ключ, с которым она привязана к exchange.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueExpiring, RoutingKey: RoutingKeyExpiring},
	}
}
