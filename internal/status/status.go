package status

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrCancelled = errors.New("status: cancelled")
	ErrPanicked  = errors.New("status: operation panicked")
)

// Callback receives the completed status.
type Callback func(*Status)

// Status is the handle for one in-flight operation.
type Status struct {
	mu        sync.Mutex
	done      chan struct{}
	finished  bool
	err       error
	callbacks []Callback
	cancel    context.CancelFunc
}

// Go starts op in its own goroutine and returns its handle immediately.
// The op context is derived from ctx and is cancelled by Cancel.
func Go(ctx context.Context, op func(context.Context) error) *Status {
	opCtx, cancel := context.WithCancel(ctx)
	s := &Status{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		err := run(opCtx, op)
		if errors.Is(err, context.Canceled) && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		s.finish(err)
	}()
	return s
}

// Wrap turns op into a function returning a Status for each call.
func Wrap(op func(context.Context) error) func(context.Context) *Status {
	return func(ctx context.Context) *Status {
		return Go(ctx, op)
	}
}

// Completed returns a status that is already finished with err.
func Completed(err error) *Status {
	s := &Status{done: make(chan struct{}), cancel: func() {}}
	s.finish(err)
	return s
}

func run(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return op(ctx)
}

func (s *Status) finish(err error) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	s.err = err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		s.runCallback(cb)
	}
	return true
}

// runCallback isolates a panicking callback from the others and from the
// goroutine that completed the status.
func (s *Status) runCallback(cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("status", s.String()).Msg("status callback panicked")
		}
	}()
	cb(s)
}

// Wait blocks until the operation completes and returns its error.
// If ctx ends first, ctx.Err() is returned and the operation keeps running.
func (s *Status) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	default:
	}
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the status completes.
func (s *Status) Done() <-chan struct{} {
	return s.done
}

func (s *Status) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Success reports whether the status completed without error.
func (s *Status) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished && s.err == nil
}

// Err returns the captured error, or nil while the operation is running.
func (s *Status) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// AddCallback registers cb to run once on completion.
// If the status is already complete, cb runs immediately on the caller's goroutine.
func (s *Status) AddCallback(cb Callback) {
	if cb == nil {
		return
	}
	s.mu.Lock()
	if !s.finished {
		s.callbacks = append(s.callbacks, cb)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.runCallback(cb)
}

// Cancel stops the wrapped operation and fails the status with ErrCancelled.
// It has no effect on a completed status.
func (s *Status) Cancel() {
	s.finish(fmt.Errorf("%w: %w", ErrCancelled, context.Canceled))
	s.cancel()
}

func (s *Status) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.finished:
		return "Status(running)"
	case s.err == nil:
		return "Status(done)"
	default:
		return fmt.Sprintf("Status(failed: %v)", s.err)
	}
}

// WaitAll waits for every status and returns the first failure in argument order.
func WaitAll(ctx context.Context, statuses ...*Status) error {
	var first error
	for _, st := range statuses {
		if st == nil {
			continue
		}
		if err := st.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
