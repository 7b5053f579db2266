// Package gatebot собирает бота из компонентов и управляет его жизненным циклом:
// выбирает режим получения обновлений, запускает фоновое обслуживание
// и корректно останавливает всё по отмене контекста.
package gatebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-gate/internal/bot"
	"github.com/magabrotheeeer/subscription-gate/internal/cache"
	"github.com/magabrotheeeer/subscription-gate/internal/config"
	"github.com/magabrotheeeer/subscription-gate/internal/http/handlers/health"
	"github.com/magabrotheeeer/subscription-gate/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/subscription-gate/internal/ledger"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/rabbitmq"
	schedulerservice "github.com/magabrotheeeer/subscription-gate/internal/services/scheduler"
	senderservice "github.com/magabrotheeeer/subscription-gate/internal/services/sender"
	subscriptionservice "github.com/magabrotheeeer/subscription-gate/internal/services/subscription"
	verifierservice "github.com/magabrotheeeer/subscription-gate/internal/services/verifier"
	"github.com/magabrotheeeer/subscription-gate/internal/transport/telegram"
)

const shutdownTimeout = 15 * time.Second

// Mode способ получения обновлений от Telegram.
type Mode string

const (
	ModePush Mode = "push"
	ModePull Mode = "pull"
)

// ModeFor выбирает режим один раз при старте: публичный адрес включает push.
func ModeFor(cfg *config.Config) Mode {
	if cfg.PushMode() {
		return ModePush
	}
	return ModePull
}

// Telegram операции Bot API, которые использует приложение.
type Telegram interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendReply(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) error
	RegisterWebhook(url string) error
	DeleteWebhook() error
	Poll(ctx context.Context, handle telegram.UpdateFunc, workers int) error
}

type closer struct {
	name  string
	close func() error
}

// App приложение бота.
type App struct {
	cfg         *config.Config
	logger      *slog.Logger
	mode        Mode
	tg          Telegram
	store       Store
	updates     *bot.UpdateHandler
	maintenance *schedulerservice.Loop
	server      *http.Server
	consume     func(ctx context.Context) error
	closers     []closer
}

// New создает приложение с клиентом Telegram Bot API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	tg, err := telegram.New(cfg.TelegramToken, logger)
	if err != nil {
		return nil, err
	}
	return NewWithTelegram(ctx, cfg, logger, tg)
}

// NewWithTelegram создает приложение с заданным клиентом Telegram.
func NewWithTelegram(ctx context.Context, cfg *config.Config, logger *slog.Logger, tg Telegram) (*App, error) {
	const op = "gatebot.New"

	a := &App{
		cfg:    cfg,
		logger: logger,
		mode:   ModeFor(cfg),
		tg:     tg,
	}

	minimum, err := cfg.Subscription.Minimum()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store, backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.store = store
	a.addCloser("storage", store.Close)
	logger.Info("storage ready", slog.String("backend", backend))

	verifier, err := a.buildVerifier(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	gate := subscriptionservice.NewSubscriptionService(store, verifier, cfg.Subscription.Plan, logger)

	dispatcher := bot.NewDispatcher(gate, a.buildThrottle(ctx), bot.Settings{
		Minimum:       minimum,
		Days:          cfg.Subscription.Days,
		AttemptWindow: cfg.Subscription.AttemptWindow,
	}, logger)
	a.updates = bot.NewUpdateHandler(dispatcher, tg, cfg.Bot.HandleTimeout, logger)

	scheduler := schedulerservice.NewSchedulerService(store, a.buildNotifier(), cfg.Maintenance.ReminderLead, cfg.Maintenance.Retention, logger)
	a.maintenance = schedulerservice.NewLoop(scheduler.RunOnce, cfg.Maintenance.PollInterval, cfg.Maintenance.Cooldown, logger)

	a.server = a.buildServer()
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) buildVerifier(ctx context.Context) (verifierservice.Verifier, error) {
	if a.cfg.Ledger.BypassVerification {
		a.logger.Warn("payment verification is bypassed, every wallet is approved")
		return verifierservice.ApproveAll{}, nil
	}

	var client ledger.Client = ledger.Disabled{}
	if a.cfg.Ledger.RPCURL == "" {
		a.logger.Warn("ledger rpc url is not set, wallet checks will fail")
	} else {
		eth, err := ledger.Dial(ctx, a.cfg.Ledger.RPCURL, a.cfg.Ledger.Timeout)
		if err != nil {
			return nil, err
		}
		a.addCloser("ledger", func() error {
			eth.Close()
			return nil
		})
		client = eth
	}
	return verifierservice.NewBalanceVerifier(client, a.logger), nil
}

func (a *App) buildThrottle(ctx context.Context) bot.Throttle {
	if a.cfg.RedisConnection.AddressRedis == "" {
		return cache.NewLocal()
	}
	redisCache, err := cache.InitServer(ctx, a.cfg.RedisConnection)
	if err != nil {
		a.logger.Warn("redis unavailable, throttling attempts in process", sl.Err(err))
		return cache.NewLocal()
	}
	a.addCloser("redis", redisCache.Close)
	return redisCache
}

// buildNotifier возвращает получателя напоминаний. С брокером напоминания
// проходят через очередь и доставляются потребителем, без него отправляются сразу.
func (a *App) buildNotifier() schedulerservice.Notifier {
	direct := senderservice.NewSenderService(a.tg, a.cfg.Bot.HandleTimeout, a.logger)
	if a.cfg.RabbitMQ.URL == "" {
		return direct
	}

	conn, err := rabbitmq.Connect(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.MaxRetries, a.cfg.RabbitMQ.RetryDelay)
	if err != nil {
		a.logger.Warn("rabbitmq unavailable, sending notices directly", sl.Err(err))
		return direct
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeAMQP(nil, conn, a.logger)
		a.logger.Warn("rabbitmq channel setup failed, sending notices directly", sl.Err(err))
		return direct
	}
	a.addCloser("rabbitmq", func() error {
		closeAMQP(ch, conn, a.logger)
		return nil
	})

	direct.WithReminders(a.store)
	a.consume = func(ctx context.Context) error {
		return rabbitmq.ConsumerMessage(ctx, ch, rabbitmq.QueueExpiring, direct.SendExpiringNotice, direct.ReleaseNotice, a.logger)
	}
	return rabbitmq.NewExpiryPublisher(ch)
}

func closeAMQP(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// buildServer создает HTTP-сервер: webhook в push-режиме, в pull-режиме
// только /health и /metrics, если задан адрес.
func (a *App) buildServer() *http.Server {
	addr := a.cfg.HTTPServer.Address
	var hook http.Handler
	if a.mode == ModePush {
		addr = a.cfg.WebhookListenAddress()
		hook = webhook.New(a.logger, a.updates)
	}
	if addr == "" {
		return nil
	}

	router := chi.NewRouter()
	limiter := rate.NewLimiter(rate.Limit(a.cfg.HTTPServer.RateLimit), a.cfg.HTTPServer.RateBurst)
	RegisterRoutes(router, a.logger, a.cfg.WebhookPath(), hook, health.New(a.logger, a.store, string(a.mode)), limiter)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.cfg.HTTPServer.Timeout,
		WriteTimeout: a.cfg.Bot.HandleTimeout + a.cfg.HTTPServer.Timeout,
		IdleTimeout:  a.cfg.HTTPServer.IdleTimeout,
	}
}

// Mode возвращает выбранный режим.
func (a *App) Mode() Mode {
	return a.mode
}

// Handler возвращает HTTP-обработчик сервера или nil, если сервер не нужен.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler
}

// Run запускает обслуживание и приём обновлений и блокируется до отмены ctx
// или отказа приёма обновлений. Ресурсы освобождаются перед возвратом.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.maintenance.Run(ctx)
	}()
	defer wg.Wait()

	if a.mode == ModePull && a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.serve(ctx); err != nil {
				a.logger.Error("status server stopped", sl.Err(err))
			}
		}()
	}

	if a.consume != nil {
		if err := a.consume(ctx); err != nil {
			a.logger.Error("failed to start notice consumer", sl.Err(err))
		}
	}

	a.logger.Info("bot starting", slog.String("mode", string(a.mode)))
	var err error
	if a.mode == ModePush {
		err = a.runPush(ctx)
	} else {
		err = a.runPull(ctx)
	}
	cancel()
	return err
}

func (a *App) runPush(ctx context.Context) error {
	const op = "gatebot.runPush"

	url := a.cfg.WebhookURL()
	if err := a.tg.RegisterWebhook(url); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.logger.Info("webhook registered", slog.String("listen", a.server.Addr))

	return a.serve(ctx)
}

func (a *App) runPull(ctx context.Context) error {
	const op = "gatebot.runPull"

	if err := a.tg.DeleteWebhook(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tg.Poll(ctx, a.updates.HandleUpdate, a.cfg.Bot.Workers); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// serve обслуживает HTTP до отмены ctx, затем останавливает сервер.
func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}

// Close освобождает ресурсы в обратном порядке. Повторный вызов ничего не делает.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error("failed to close resource", slog.String("resource", c.name), sl.Err(err))
		}
	}
	a.closers = nil
}
