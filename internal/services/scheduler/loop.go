package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
)

// IterationFunc одна итерация фоновой задачи.
type IterationFunc func(ctx context.Context) error

// WaitFunc ждёт d или отмены ctx; возвращает false, если ctx отменён.
type WaitFunc func(ctx context.Context, d time.Duration) bool

// Loop бесконечный цикл обслуживания. Ошибка или паника в итерации
// логируется, после чего цикл ждёт cooldown вместо interval.
// Завершается только при отмене контекста.
type Loop struct {
	iterate  IterationFunc
	interval time.Duration
	cooldown time.Duration
	log      *slog.Logger
	wait     WaitFunc
}

// NewLoop создает цикл, вызывающий iterate каждые interval.
func NewLoop(iterate IterationFunc, interval, cooldown time.Duration, log *slog.Logger) *Loop {
	return &Loop{
		iterate:  iterate,
		interval: interval,
		cooldown: cooldown,
		log:      log,
		wait:     sleepContext,
	}
}

// Run выполняет итерации до отмены ctx. Первая итерация выполняется сразу.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("maintenance loop started",
		slog.Duration("interval", l.interval),
		slog.Duration("cooldown", l.cooldown))

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			break
		}

		delay := l.interval
		if err := l.runIteration(ctx); err != nil {
			metrics.MaintenanceIterations.WithLabelValues("error").Inc()
			l.log.Warn("maintenance iteration failed, continuing",
				slog.Int("cycle", cycle), sl.Err(err))
			delay = l.cooldown
		} else {
			metrics.MaintenanceIterations.WithLabelValues("ok").Inc()
			l.log.Debug("maintenance iteration completed", slog.Int("cycle", cycle))
		}

		if !l.wait(ctx, delay) {
			break
		}
	}

	l.log.Info("maintenance loop stopped")
}

func (l *Loop) runIteration(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("maintenance iteration panicked: %v", r)
		}
	}()
	return l.iterate(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
