// Package bot связывает команды пользователей с сервисом подписки.
// Dispatcher не зависит от транспорта: он превращает команду в текст ответа.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
	sendersvc "github.com/magabrotheeeer/subscription-gate/internal/services/sender"
	subscriptionservice "github.com/magabrotheeeer/subscription-gate/internal/services/subscription"
	verifierservice "github.com/magabrotheeeer/subscription-gate/internal/services/verifier"
)

// Op операция сервиса подписки, выполненная при обработке команды.
type Op string

const (
	OpNone         Op = "none"
	OpStatus       Op = "status"
	OpTrySubscribe Op = "try_subscribe"
	OpIsEntitled   Op = "is_entitled"
)

// Command входящая команда пользователя.
type Command struct {
	Name   string
	UserID string
	Args   []string
}

// Reply ответ на команду.
type Reply struct {
	Text     string
	Op       Op
	Markdown bool
}

// Gate операции сервиса подписки, доступные командам.
type Gate interface {
	Status(ctx context.Context, userID string) (subscriptionservice.Status, error)
	IsEntitled(ctx context.Context, userID string) bool
	TrySubscribe(ctx context.Context, userID, address string, minimum *big.Rat, days int) (subscriptionservice.SubscribeResult, error)
}

// Throttle ограничивает частоту попыток оформления подписки.
type Throttle interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Settings параметры оформления подписки.
type Settings struct {
	Minimum       *big.Rat
	Days          int
	AttemptWindow time.Duration
}

var premiumCommands = map[string]bool{
	"wallets": true,
	"pay":     true,
	"viewtx":  true,
	"myinfo":  true,
}

const (
	textUnavailable = "⚠️ Subscription service is temporarily unavailable. Please try again later."
	textUnknown     = "Unknown command. Use /help to see available commands."
)

// Dispatcher сопоставляет имя команды с обработчиком.
type Dispatcher struct {
	gate     Gate
	throttle Throttle
	settings Settings
	log      *slog.Logger
}

// NewDispatcher создает диспетчер команд. throttle может быть nil.
func NewDispatcher(gate Gate, throttle Throttle, settings Settings, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		throttle: throttle,
		settings: settings,
		log:      log,
	}
}

// Dispatch обрабатывает команду и возвращает ответ. Ошибки хранилища и
// ledger в ответ не попадают, только в лог.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Reply {
	name := strings.ToLower(cmd.Name)

	label := name
	switch {
	case name == "start", name == "help", name == "status", name == "subscribe", premiumCommands[name]:
	default:
		label = "unknown"
	}
	metrics.Commands.WithLabelValues(label).Inc()

	switch {
	case name == "start" || name == "help":
		return d.help()
	case name == "status":
		return d.status(ctx, cmd)
	case name == "subscribe":
		return d.subscribe(ctx, cmd)
	case premiumCommands[name]:
		return d.premium(ctx, cmd)
	default:
		return Reply{Text: textUnknown, Op: OpNone}
	}
}

func (d *Dispatcher) help() Reply {
	text := "🔥 *Subscription Gate Bot* - Automated Crypto Alerts\n\n" +
		"Commands:\n" +
		fmt.Sprintf("/subscribe <wallet> - Start instant %d-day premium access.\n", d.settings.Days) +
		"/status - Show your subscription status.\n" +
		"All other commands are Premium features."
	return Reply{Text: text, Op: OpNone, Markdown: true}
}

func (d *Dispatcher) status(ctx context.Context, cmd Command) Reply {
	st, err := d.gate.Status(ctx, cmd.UserID)
	if err != nil {
		d.log.Error("status check failed", slog.String("user_id", cmd.UserID), sl.Err(err))
		return Reply{Text: textUnavailable, Op: OpStatus}
	}
	if !st.Active {
		return Reply{Text: "✖ You do not have an active subscription. Use /subscribe to begin.", Op: OpStatus}
	}
	return Reply{Text: fmt.Sprintf("✅ Premium access active until %s.", formatExpiry(st.ExpiresAt)), Op: OpStatus}
}

func (d *Dispatcher) subscribe(ctx context.Context, cmd Command) Reply {
	st, err := d.gate.Status(ctx, cmd.UserID)
	if err != nil {
		d.log.Error("subscribe status check failed", slog.String("user_id", cmd.UserID), sl.Err(err))
		return Reply{Text: textUnavailable, Op: OpStatus}
	}
	if st.Active {
		return Reply{Text: fmt.Sprintf("✅ Subscription active until %s.", formatExpiry(st.ExpiresAt)), Op: OpStatus}
	}

	if len(cmd.Args) == 0 {
		text := fmt.Sprintf("To activate your *%d-day premium access* instantly, please use:\n", d.settings.Days) +
			"`/subscribe <your_wallet_address>`\n\n" +
			fmt.Sprintf("*Requirement:* We will check that your wallet holds a balance of at least *%s ETH*.\n", formatEth(d.settings.Minimum)) +
			"If the balance is confirmed, your subscription is *activated instantly*."
		return Reply{Text: text, Op: OpStatus, Markdown: true}
	}

	if !d.allowAttempt(ctx, cmd.UserID) {
		return Reply{
			Text: fmt.Sprintf("⏳ Please wait %s before checking a wallet again.", d.settings.AttemptWindow),
			Op:   OpStatus,
		}
	}

	address := cmd.Args[0]
	res, err := d.gate.TrySubscribe(ctx, cmd.UserID, address, d.settings.Minimum, d.settings.Days)
	if err != nil {
		d.log.Error("subscribe failed", slog.String("user_id", cmd.UserID), sl.Err(err))
		return Reply{Text: textUnavailable, Op: OpTrySubscribe}
	}

	switch res.Outcome {
	case subscriptionservice.AlreadyActive:
		return Reply{Text: fmt.Sprintf("✅ Subscription active until %s.", formatExpiry(res.ExpiresAt)), Op: OpTrySubscribe}
	case subscriptionservice.Granted:
		text := fmt.Sprintf("🥳 *Payment Confirmed!* Your %d-day premium subscription is now *active* until %s.",
			d.settings.Days, formatExpiry(res.ExpiresAt))
		return Reply{Text: text, Op: OpTrySubscribe, Markdown: true}
	default:
		return Reply{Text: d.paymentFailedText(address, res.Verification.Outcome), Op: OpTrySubscribe, Markdown: true}
	}
}

func (d *Dispatcher) paymentFailedText(address string, outcome verifierservice.Outcome) string {
	safe := strings.ReplaceAll(address, "`", "")
	switch outcome {
	case verifierservice.InvalidAddress:
		return fmt.Sprintf("`%s` is not a valid Ethereum address. Please check it and try again.", safe)
	case verifierservice.LedgerUnavailable, verifierservice.LedgerError:
		return "Payment checks are temporarily unavailable. Please try again later."
	default:
		return fmt.Sprintf("Wallet check failed. Ensure wallet `%s` is correct and has a balance of at least %s ETH.",
			safe, formatEth(d.settings.Minimum))
	}
}

func (d *Dispatcher) premium(ctx context.Context, cmd Command) Reply {
	if !d.gate.IsEntitled(ctx, cmd.UserID) {
		return Reply{
			Text:     "❌ This is a *Premium Command*. Please use /subscribe to gain access to this feature.",
			Op:       OpIsEntitled,
			Markdown: true,
		}
	}
	return Reply{Text: "✅ Premium access granted. Command activated!", Op: OpIsEntitled}
}

// allowAttempt ограничивает попытки проверки кошелька. При ошибке
// ограничителя попытка разрешается.
func (d *Dispatcher) allowAttempt(ctx context.Context, userID string) bool {
	if d.throttle == nil {
		return true
	}
	ok, err := d.throttle.Allow(ctx, userID, d.settings.AttemptWindow)
	if err != nil {
		d.log.Warn("attempt throttle unavailable", slog.String("user_id", userID), sl.Err(err))
		return true
	}
	return ok
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format(sendersvc.ExpiryLayout)
}

// formatEth печатает сумму в эфирах без лишних нулей.
func formatEth(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
