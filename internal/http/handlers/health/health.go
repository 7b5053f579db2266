package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-gate/internal/http/response"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
)

const pingTimeout = 2 * time.Second

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler отвечает на проверку готовности.
type Handler struct {
	log     *slog.Logger
	storage Pinger
	mode    string
}

// New создает обработчик проверки состояния.
func New(log *slog.Logger, storage Pinger, mode string) *Handler {
	return &Handler{
		log:     log,
		storage: storage,
		mode:    mode,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		h.log.Error("storage ping failed", sl.Op(op), sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Response{
			Status: response.StatusError,
			Error:  "storage unavailable",
			Data:   map[string]any{"mode": h.mode, "storage": "down"},
		})
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"mode":    h.mode,
		"storage": "up",
	}))
}
