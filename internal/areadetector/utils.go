package areadetector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/status"
)

var (
	ErrBadDetectorState = errors.New("areadetector: detector ended in a bad state")
	ErrFilePathMissing  = errors.New("areadetector: file path does not exist on the IOC")
)

// StopBusyRecord writes value to a busy record without waiting for the
// record to process, then waits for the readback to report it.
func StopBusyRecord[T comparable](ctx context.Context, sig signal.SignalRW[T], value T, timeout time.Duration) error {
	if err := sig.Set(ctx, value, signal.NoWait()).Wait(ctx); err != nil {
		return err
	}
	return signal.WaitForValue[T](ctx, sig, signal.Equal(value), timeout)
}

// startAcquiring sets acquire and returns once the driver reports it. The
// returned status completes when acquisition finishes and fails unless the
// driver then reports one of good (Idle by default).
func startAcquiring(ctx context.Context, drv *ADDriver, timeout time.Duration, good ...DetectorState) (*status.Status, error) {
	if len(good) == 0 {
		good = []DetectorState{DetectorIdle}
	}
	acquiring, err := signal.SetAndWaitForValue[bool](ctx, drv.Acquire, true, drv.Acquire, timeout)
	if err != nil {
		return nil, err
	}
	return status.Go(ctx, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := acquiring.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return signal.NewTimeoutError("acquire", drv.Acquire.Source(), timeout)
			}
			return err
		}
		state, err := drv.DetectorState.GetValue(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(good, state) {
			return fmt.Errorf("%w: %q not in %v", ErrBadDetectorState, state, good)
		}
		return nil
	}), nil
}
