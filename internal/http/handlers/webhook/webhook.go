// Package webhook принимает обновления, которые Telegram доставляет в push-режиме.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/subscription-gate/internal/http/response"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
)

const maxBodyBytes = 1 << 20

// UpdateHandler обрабатывает одно обновление.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Handler принимает обновления Telegram в push-режиме.
type Handler struct {
	log     *slog.Logger
	updates UpdateHandler
}

// New создает обработчик webhook.
func New(log *slog.Logger, updates UpdateHandler) *Handler {
	return &Handler{
		log:     log,
		updates: updates,
	}
}

// ServeHTTP обрабатывает обновление внутри запроса и отвечает 200.
// Ошибки обработки команды на код ответа не влияют.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read update body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read request body"))
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		log.Error("failed to decode update", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid update payload"))
		return
	}

	h.updates.HandleUpdate(context.WithoutCancel(r.Context()), update)

	log.Debug("update processed", slog.Int("update_id", update.UpdateID))
	render.JSON(w, r, response.OK())
}
