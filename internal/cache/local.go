package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepThreshold = 1024

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local ограничитель попыток внутри процесса, используется без Redis.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time
}

// NewLocal создает ограничитель попыток в памяти.
func NewLocal() *Local {
	return &Local{
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow разрешает не больше одной попытки по ключу за window.
func (l *Local) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.limiters) >= sweepThreshold {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > window {
				delete(l.limiters, k)
			}
		}
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(window), 1)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}
