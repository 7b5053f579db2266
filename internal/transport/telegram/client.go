// Package telegram обертка над Telegram Bot API: отправка сообщений,
// long polling и регистрация webhook.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	pollTimeout = 60
	// requestTimeout ограничивает любой запрос к Bot API, включая long polling.
	requestTimeout = pollTimeout*time.Second + 15*time.Second
)

// UpdateFunc обрабатывает одно обновление.
type UpdateFunc func(ctx context.Context, update tgbotapi.Update)

// Client клиент Telegram Bot API.
type Client struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

// New создает клиента и проверяет токен запросом getMe.
func New(token string, log *slog.Logger) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout}, log)
}

// NewWithEndpoint создает клиента для произвольного адреса Bot API.
func NewWithEndpoint(token, endpoint string, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	const op = "telegram.New"

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("telegram bot authorized", slog.String("username", api.Self.UserName))

	return &Client{api: api, log: log}, nil
}

// SendText отправляет простой текст.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendReply отправляет ответ на сообщение.
func (c *Client) SendReply(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	return c.send(ctx, msg)
}

func (c *Client) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	const op = "telegram.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Bot API не принимает контекст: запрос завершится по таймауту клиента.
	errCh := make(chan error, 1)
	go func() {
		_, err := c.api.Send(msg)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// RegisterWebhook регистрирует адрес, на который Telegram доставляет обновления.
func (c *Client) RegisterWebhook(url string) error {
	const op = "telegram.RegisterWebhook"

	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := c.api.Request(wh); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteWebhook снимает webhook перед long polling.
func (c *Client) DeleteWebhook() error {
	const op = "telegram.DeleteWebhook"

	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Poll получает обновления long polling'ом и обрабатывает их не более чем
// в workers горутинах. Возвращается после отмены ctx и завершения обработчиков.
func (c *Client) Poll(ctx context.Context, handle UpdateFunc, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := c.api.GetUpdatesChan(u)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.log.Info("polling for updates", slog.Int("workers", workers))
	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			c.log.Info("polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return nil
			}
			wg.Add(1)
			go func(update tgbotapi.Update) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, update)
			}(update)
		}
	}
}
