package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/status"
)

// Signal is the shared core of every signal variant: a named leaf device
// over one backend with a subscription cache.
type Signal[T any] struct {
	device.Base
	backend   Backend[T]
	readPV    string
	writePV   string
	timeout   time.Duration
	connected atomic.Bool

	mu   sync.Mutex
	subs atomic.Pointer[cache[T]]
}

func newSignal[T any](backend Backend[T]) *Signal[T] {
	return &Signal[T]{backend: backend, timeout: device.DefaultTimeout}
}

func (s *Signal[T]) Backend() Backend[T] {
	return s.backend
}

// PVs returns the readback and setpoint names the signal was bound to. Both
// are empty for signals built directly from a backend.
func (s *Signal[T]) PVs() (read, write string) {
	return s.readPV, s.writePV
}

// Source identifies the backend endpoint, e.g. "sim://DET:Acquire".
func (s *Signal[T]) Source() string {
	return s.backend.Source()
}

// SetTimeout sets the default bound for connects and waited writes. Zero waits forever.
func (s *Signal[T]) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *Signal[T]) Timeout() time.Duration {
	return s.timeout
}

func (s *Signal[T]) Connect(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.backend.Connect(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.Source(), err)
	}
	s.connected.Store(true)
	return nil
}

func (s *Signal[T]) Connected() bool {
	return s.connected.Load()
}

func (s *Signal[T]) ensureConnected() error {
	if !s.connected.Load() {
		return fmt.Errorf("%w: %s", device.ErrNotConnected, s.Source())
	}
	return nil
}

// Subscribe delivers every update, starting with the current value, until
// the returned function is called. Callbacks must not block, write to this
// signal, or subscribe to it. If the backend cannot start its monitor the
// error is returned and nothing stays registered.
func (s *Signal[T]) Subscribe(cb ReadingValueCallback[T]) (unsubscribe func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.subs.Load()
	if c == nil {
		c = newCache[T]()
		if err := s.backend.SetCallback(c.update); err != nil {
			return nil, fmt.Errorf("%s: subscribe: %w", s.Source(), err)
		}
		s.subs.Store(c)
	}
	id := c.add(cb)

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(c, id) })
	}, nil
}

// SubscribeValue is Subscribe for value-only listeners.
func (s *Signal[T]) SubscribeValue(cb func(T)) (unsubscribe func(), err error) {
	return s.Subscribe(func(_ model.Reading, v T) { cb(v) })
}

func (s *Signal[T]) unsubscribe(c *cache[T], id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.remove(id) > 0 || s.subs.Load() != c {
		return
	}
	s.subs.Store(nil)
	if err := s.backend.SetCallback(nil); err != nil {
		log.Warn().Str("source", s.Source()).Err(err).Msg("unsubscribe failed")
	}
}

func (s *Signal[T]) getValue(ctx context.Context) (T, error) {
	if err := s.ensureConnected(); err != nil {
		var zero T
		return zero, err
	}
	if c := s.subs.Load(); c != nil {
		if _, v, ok := c.latest(); ok {
			return v, nil
		}
	}
	return s.backend.Value(ctx)
}

func (s *Signal[T]) read(ctx context.Context) (map[string]model.Reading, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	if c := s.subs.Load(); c != nil {
		if r, _, ok := c.latest(); ok {
			return map[string]model.Reading{s.Name(): r}, nil
		}
	}
	r, err := s.backend.Reading(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", s.Source(), err)
	}
	return map[string]model.Reading{s.Name(): r}, nil
}

func (s *Signal[T]) describe(ctx context.Context) (map[string]model.Descriptor, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	d, err := s.backend.Descriptor(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: describe: %w", s.Source(), err)
	}
	return map[string]model.Descriptor{s.Name(): d}, nil
}

// SetOption adjusts a single write.
type SetOption func(*setOptions)

type setOptions struct {
	wait       bool
	timeout    time.Duration
	hasTimeout bool
}

// NoWait completes the write as soon as it is issued.
func NoWait() SetOption {
	return func(o *setOptions) { o.wait = false }
}

// WithTimeout bounds a waited write. Zero waits forever.
func WithTimeout(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.timeout = d
		o.hasTimeout = true
	}
}

func (s *Signal[T]) putTimeout(o setOptions) time.Duration {
	if o.hasTimeout {
		return o.timeout
	}
	if est, ok := s.backend.(SettleEstimator); ok {
		if d := est.SettleTimeout(); d > 0 {
			return d
		}
	}
	return s.timeout
}

func (s *Signal[T]) put(ctx context.Context, value *T, opts []SetOption) *status.Status {
	o := setOptions{wait: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := s.ensureConnected(); err != nil {
		return status.Completed(err)
	}
	timeout := s.putTimeout(o)
	source := s.Source()
	return status.Go(ctx, func(ctx context.Context) error {
		if o.wait && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		err := s.backend.Put(ctx, value, o.wait)
		if errors.Is(err, context.DeadlineExceeded) {
			return NewTimeoutError("put", source, timeout)
		}
		return err
	})
}

// SignalR is a read-only signal.
type SignalR[T any] struct {
	*Signal[T]
}

func NewSignalR[T any](backend Backend[T]) SignalR[T] {
	return SignalR[T]{newSignal(backend)}
}

func (s SignalR[T]) GetValue(ctx context.Context) (T, error) {
	return s.getValue(ctx)
}

func (s SignalR[T]) Read(ctx context.Context) (map[string]model.Reading, error) {
	return s.read(ctx)
}

func (s SignalR[T]) Describe(ctx context.Context) (map[string]model.Descriptor, error) {
	return s.describe(ctx)
}

// SignalW is a write-only signal.
type SignalW[T any] struct {
	*Signal[T]
}

func NewSignalW[T any](backend Backend[T]) SignalW[T] {
	return SignalW[T]{newSignal(backend)}
}

// Set writes value. By default the returned status completes when the
// backend reports the write has settled.
func (s SignalW[T]) Set(ctx context.Context, value T, opts ...SetOption) *status.Status {
	return s.put(ctx, &value, opts)
}

// SignalRW is a read-write signal.
type SignalRW[T any] struct {
	*Signal[T]
}

func NewSignalRW[T any](backend Backend[T]) SignalRW[T] {
	return SignalRW[T]{newSignal(backend)}
}

func (s SignalRW[T]) GetValue(ctx context.Context) (T, error) {
	return s.getValue(ctx)
}

func (s SignalRW[T]) Read(ctx context.Context) (map[string]model.Reading, error) {
	return s.read(ctx)
}

func (s SignalRW[T]) Describe(ctx context.Context) (map[string]model.Descriptor, error) {
	return s.describe(ctx)
}

func (s SignalRW[T]) Set(ctx context.Context, value T, opts ...SetOption) *status.Status {
	return s.put(ctx, &value, opts)
}

// SignalX is an executable signal: writing triggers an action with no payload.
type SignalX struct {
	*Signal[struct{}]
}

func NewSignalX(backend Backend[struct{}]) SignalX {
	return SignalX{newSignal(backend)}
}

func (s SignalX) Execute(ctx context.Context, opts ...SetOption) *status.Status {
	return s.put(ctx, nil, opts)
}

// NewR binds a read-only signal to pv.
func NewR[T any](p Provider, pv string) SignalR[T] {
	s := NewSignalR(Bind[T](p, pv, pv))
	s.readPV, s.writePV = pv, pv
	return s
}

// NewRW binds a read-write signal with separate readback and setpoint pvs.
func NewRW[T any](p Provider, read, write string) SignalRW[T] {
	s := NewSignalRW(Bind[T](p, read, write))
	s.readPV, s.writePV = read, write
	return s
}

// NewW binds a write-only signal to pv.
func NewW[T any](p Provider, pv string) SignalW[T] {
	s := NewSignalW(Bind[T](p, pv, pv))
	s.readPV, s.writePV = pv, pv
	return s
}

// NewX binds an executable signal to pv.
func NewX(p Provider, pv string) SignalX {
	s := NewSignalX(Bind[struct{}](p, pv, pv))
	s.readPV, s.writePV = pv, pv
	return s
}

// Readable produces readings and their descriptors keyed by name.
type Readable interface {
	Name() string
	Read(ctx context.Context) (map[string]model.Reading, error)
	Describe(ctx context.Context) (map[string]model.Descriptor, error)
}

// Configurable reports configuration that does not change during acquisition.
type Configurable interface {
	ReadConfiguration(ctx context.Context) (map[string]model.Reading, error)
	DescribeConfiguration(ctx context.Context) (map[string]model.Descriptor, error)
}

// Executable triggers an action with no payload.
type Executable interface {
	Execute(ctx context.Context, opts ...SetOption) *status.Status
}

// Observable exposes a current value and a stream of updates.
type Observable[T any] interface {
	Source() string
	GetValue(ctx context.Context) (T, error)
	SubscribeValue(cb func(T)) (unsubscribe func(), err error)
}

// Settable accepts writes that complete through a status handle.
type Settable[T any] interface {
	Source() string
	Set(ctx context.Context, value T, opts ...SetOption) *status.Status
}

var (
	_ device.Device   = SignalR[int]{}
	_ Readable        = SignalR[int]{}
	_ Observable[int] = SignalR[int]{}
	_ Readable        = SignalRW[int]{}
	_ Observable[int] = SignalRW[int]{}
	_ Settable[int]   = SignalRW[int]{}
	_ Settable[int]   = SignalW[int]{}
	_ device.Device   = SignalX{}
)
