package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
)

// Sender отправляет ответ в чат.
type Sender interface {
	SendReply(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) error
}

// CommandDispatcher обрабатывает разобранную команду.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd Command) Reply
}

// UpdateHandler превращает обновления Telegram в команды и отправляет ответы.
type UpdateHandler struct {
	dispatcher CommandDispatcher
	sender     Sender
	timeout    time.Duration
	log        *slog.Logger
}

// NewUpdateHandler создает обработчик обновлений.
func NewUpdateHandler(dispatcher CommandDispatcher, sender Sender, timeout time.Duration, log *slog.Logger) *UpdateHandler {
	return &UpdateHandler{
		dispatcher: dispatcher,
		sender:     sender,
		timeout:    timeout,
		log:        log,
	}
}

// CommandFromUpdate извлекает команду из обновления. Второе значение false,
// если обновление не является командой пользователя.
func CommandFromUpdate(update tgbotapi.Update) (Command, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return Command{}, false
	}
	return Command{
		Name:   msg.Command(),
		UserID: strconv.FormatInt(msg.From.ID, 10),
		Args:   strings.Fields(msg.CommandArguments()),
	}, true
}

// HandleUpdate обрабатывает одно обновление. Паника в обработчике
// логируется и не выходит наружу.
func (h *UpdateHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	const op = "bot.HandleUpdate"

	cmd, ok := CommandFromUpdate(update)
	if !ok {
		return
	}

	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", uuid.NewString()),
		slog.Int("update_id", update.UpdateID),
		slog.String("user_id", cmd.UserID),
		slog.String("command", cmd.Name),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("update handler panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	reply := h.dispatcher.Dispatch(ctx, cmd)
	metrics.UpdatesDuration.WithLabelValues(string(reply.Op)).Observe(time.Since(start).Seconds())

	msg := update.Message
	if err := h.sender.SendReply(ctx, msg.Chat.ID, msg.MessageID, reply.Text, reply.Markdown); err != nil {
		log.Error("failed to send reply", sl.Err(err))
		return
	}
	log.Info("command handled",
		slog.String("gate_op", string(reply.Op)),
		slog.Duration("took", time.Since(start)),
	)
}
