package signal

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/danmuck/acqctl/internal/model"
)

// SimBackend is an in-memory backend. Writes land immediately; waited writes
// block until puts are allowed to proceed (the default).
type SimBackend[T any] struct {
	mu        sync.Mutex
	source    string
	value     T
	timestamp float64
	severity  int
	settle    time.Duration
	callback  ReadingValueCallback[T]
	hook      ReadingValueCallback[T]
	proceeds  chan struct{}
}

var _ Backend[int] = (*SimBackend[int])(nil)

func NewSimBackend[T any](pv string) *SimBackend[T] {
	proceeds := make(chan struct{})
	close(proceeds)
	return &SimBackend[T]{
		source:    "sim://" + pv,
		timestamp: now(),
		proceeds:  proceeds,
	}
}

func (b *SimBackend[T]) Source() string {
	return b.source
}

func (b *SimBackend[T]) Connect(ctx context.Context) error {
	return ctx.Err()
}

func (b *SimBackend[T]) Put(ctx context.Context, value *T, wait bool) error {
	if value != nil {
		b.Set(*value)
	} else {
		b.Set(b.current())
	}
	if !wait {
		return nil
	}
	b.mu.Lock()
	proceeds := b.proceeds
	b.mu.Unlock()
	select {
	case <-proceeds:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SimBackend[T]) Descriptor(ctx context.Context) (model.Descriptor, error) {
	v := b.current()
	return model.Descriptor{
		Source: b.source,
		Dtype:  dtypeOf(reflect.TypeFor[T]()),
		Shape:  shapeOf(v),
	}, nil
}

func (b *SimBackend[T]) Reading(ctx context.Context) (model.Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readingLocked(), nil
}

func (b *SimBackend[T]) Value(ctx context.Context) (T, error) {
	return b.current(), nil
}

// SetCallback installs cb and immediately delivers the current value to it.
func (b *SimBackend[T]) SetCallback(cb ReadingValueCallback[T]) error {
	b.mu.Lock()
	b.callback = cb
	reading, value := b.readingLocked(), b.value
	b.mu.Unlock()
	if cb != nil {
		cb(reading, value)
	}
	return nil
}

func (b *SimBackend[T]) SettleTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settle
}

// Set replaces the value and notifies the monitor callback, then the hook.
func (b *SimBackend[T]) Set(value T) {
	b.mu.Lock()
	b.value = value
	b.timestamp = now()
	reading := b.readingLocked()
	cb, hook := b.callback, b.hook
	b.mu.Unlock()

	if cb != nil {
		cb(reading, value)
	}
	if hook != nil {
		hook(reading, value)
	}
}

// SetSeverity sets the alarm severity reported with readings.
func (b *SimBackend[T]) SetSeverity(severity int) {
	b.mu.Lock()
	b.severity = severity
	b.mu.Unlock()
}

// SetPutProceeds gates waited writes: false holds them until it is set back to true.
func (b *SimBackend[T]) SetPutProceeds(proceeds bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.proceeds:
		if !proceeds {
			b.proceeds = make(chan struct{})
		}
	default:
		if proceeds {
			close(b.proceeds)
		}
	}
}

// SetHook installs a function run after every value change. It stands in
// for the remote side reacting to writes.
func (b *SimBackend[T]) SetHook(hook ReadingValueCallback[T]) {
	b.mu.Lock()
	b.hook = hook
	b.mu.Unlock()
}

// SetSettleTimeout sets the settle estimate reported to waited writes.
func (b *SimBackend[T]) SetSettleTimeout(d time.Duration) {
	b.mu.Lock()
	b.settle = d
	b.mu.Unlock()
}

func (b *SimBackend[T]) current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *SimBackend[T]) readingLocked() model.Reading {
	return model.Reading{
		Value:         b.value,
		Timestamp:     b.timestamp,
		AlarmSeverity: b.severity,
	}
}

type backed[T any] interface {
	Backend() Backend[T]
}

// SimOf returns the simulation backend behind sig.
func SimOf[T any](sig backed[T]) (*SimBackend[T], error) {
	sim, ok := sig.Backend().(*SimBackend[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSimulated, sig.Backend().Source())
	}
	return sim, nil
}

func mustSim[T any](sig backed[T]) *SimBackend[T] {
	sim, err := SimOf(sig)
	if err != nil {
		panic(err)
	}
	return sim
}

// SetSimValue sets the value of a simulated signal as if the device changed it.
// It panics if sig is not simulated.
func SetSimValue[T any](sig backed[T], value T) {
	mustSim(sig).Set(value)
}

// SetSimPutProceeds gates waited writes on a simulated signal.
func SetSimPutProceeds[T any](sig backed[T], proceeds bool) {
	mustSim(sig).SetPutProceeds(proceeds)
}

// SetSimHook installs a reaction to every value change of a simulated signal.
func SetSimHook[T any](sig backed[T], hook ReadingValueCallback[T]) {
	mustSim(sig).SetHook(hook)
}
