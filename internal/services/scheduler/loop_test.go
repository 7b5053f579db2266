package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWait запоминает задержки и отменяет контекст после limit ожиданий.
type recordingWait struct {
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (w *recordingWait) wait(_ context.Context, d time.Duration) bool {
	w.delays = append(w.delays, d)
	if len(w.delays) >= w.limit {
		w.cancel()
		return false
	}
	return true
}

func TestLoop_FaultOnThirdIterationDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var iterations []int
	iterate := func(context.Context) error {
		iterations = append(iterations, len(iterations)+1)
		if len(iterations) == 3 {
			return errors.New("database connection lost")
		}
		return nil
	}

	w := &recordingWait{limit: 5, cancel: cancel}
	l := NewLoop(iterate, 30*time.Second, 10*time.Second, newNoopLogger())
	l.wait = w.wait

	l.Run(ctx)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, iterations)
	assert.Equal(t, []time.Duration{
		30 * time.Second,
		30 * time.Second,
		10 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, w.delays)
}

func TestLoop_RecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	iterate := func(context.Context) error {
		calls++
		if calls == 1 {
			panic("nil map write")
		}
		return nil
	}

	w := &recordingWait{limit: 2, cancel: cancel}
	l := NewLoop(iterate, time.Minute, time.Second, newNoopLogger())
	l.wait = w.wait

	require.NotPanics(t, func() { l.Run(ctx) })
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Minute}, w.delays)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	iterate := func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		return nil
	}
	l := NewLoop(iterate, time.Hour, time.Minute, newNoopLogger())

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestLoop_DoesNotStartWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	l := NewLoop(func(context.Context) error { calls++; return nil }, time.Second, time.Millisecond, newNoopLogger())
	l.Run(ctx)

	assert.Zero(t, calls)
}

func TestSleepContext(t *testing.T) {
	assert.True(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepContext(ctx, time.Hour))
}
