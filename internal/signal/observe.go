package signal

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/acqctl/internal/status"
)

// Matcher reports whether a value satisfies a wait.
type Matcher[T any] func(T) bool

// Equal matches values equal to want.
func Equal[T comparable](want T) Matcher[T] {
	return func(v T) bool { return v == want }
}

// ObserveValue streams the current value of sig followed by every update
// until ctx ends, then closes the channel. The channel holds only the latest
// value: a slow consumer skips intermediate updates but always sees the newest.
// Each call is an independent stream. A subscription failure is returned
// before any value is produced.
func ObserveValue[T any](ctx context.Context, sig Observable[T]) (<-chan T, error) {
	out := make(chan T, 1)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe, err := sig.SubscribeValue(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-out:
		default:
		}
		out <- v
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// WaitForValue blocks until sig holds a value satisfying match. The current
// value counts, and every update is tested, including ones replaced before a
// reader could see them. A positive timeout bounds the wait; zero or less
// waits until ctx ends.
func WaitForValue[T any](ctx context.Context, sig Observable[T], match Matcher[T], timeout time.Duration) error {
	return waitFor(ctx, sig, match, timeout, nil)
}

// SetAndWaitForValue writes value to sig and returns once readback reports
// it, without waiting for the write itself to settle. The returned status
// tracks the write. The readback is watched before the write is issued.
func SetAndWaitForValue[T comparable](ctx context.Context, sig Settable[T], value T, readback Observable[T], timeout time.Duration) (*status.Status, error) {
	if readback == nil {
		return nil, ErrNoReadback
	}
	var st *status.Status
	err := waitFor(ctx, readback, Equal(value), timeout, func() {
		st = sig.Set(ctx, value)
	})
	return st, err
}

func waitFor[T any](ctx context.Context, sig Observable[T], match Matcher[T], timeout time.Duration, start func()) error {
	matched := make(chan struct{})
	var once sync.Once
	unsubscribe, err := sig.SubscribeValue(func(v T) {
		if match(v) {
			once.Do(func() { close(matched) })
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if start != nil {
		start()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-matched:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return NewTimeoutError("wait for value on", sig.Source(), timeout)
	}
}
