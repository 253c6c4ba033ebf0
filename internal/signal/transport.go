package signal

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/acqctl/internal/model"
)

// Meta accompanies every value a Transport delivers.
type Meta struct {
	Timestamp float64
	Severity  int
}

// Transport is untyped access to named process variables. Remote backends
// adapt it to typed signals. Monitor delivers the current value first and
// then every change until cancelled.
type Transport interface {
	Scheme() string
	Connect(ctx context.Context, pv string) error
	Get(ctx context.Context, pv string) (any, Meta, error)
	Put(ctx context.Context, pv string, value any, wait bool) error
	Monitor(pv string, cb func(value any, meta Meta)) (cancel func(), err error)
}

// SettleTransport is implemented by transports that can estimate write settle times.
type SettleTransport interface {
	SettleTimeout(pv string) time.Duration
}

type remoteBackend[T any] struct {
	transport Transport
	read      string
	write     string

	mu     sync.Mutex
	cancel func()
}

func newRemoteBackend[T any](t Transport, read, write string) *remoteBackend[T] {
	return &remoteBackend[T]{transport: t, read: read, write: write}
}

func (b *remoteBackend[T]) Source() string {
	return b.transport.Scheme() + "://" + b.read
}

func (b *remoteBackend[T]) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.transport.Connect(gctx, b.read) })
	if b.write != "" && b.write != b.read {
		g.Go(func() error { return b.transport.Connect(gctx, b.write) })
	}
	return g.Wait()
}

func (b *remoteBackend[T]) Put(ctx context.Context, value *T, wait bool) error {
	var raw any
	if value != nil {
		raw = *value
	}
	return b.transport.Put(ctx, b.write, raw, wait)
}

func (b *remoteBackend[T]) Descriptor(ctx context.Context) (model.Descriptor, error) {
	v, err := b.Value(ctx)
	if err != nil {
		return model.Descriptor{}, err
	}
	return model.Descriptor{
		Source: b.Source(),
		Dtype:  dtypeOf(reflect.TypeFor[T]()),
		Shape:  shapeOf(v),
	}, nil
}

func (b *remoteBackend[T]) Reading(ctx context.Context) (model.Reading, error) {
	raw, meta, err := b.transport.Get(ctx, b.read)
	if err != nil {
		return model.Reading{}, err
	}
	v, err := convertValue[T](raw)
	if err != nil {
		return model.Reading{}, fmt.Errorf("%s: %w", b.Source(), err)
	}
	return model.Reading{Value: v, Timestamp: meta.Timestamp, AlarmSeverity: meta.Severity}, nil
}

func (b *remoteBackend[T]) Value(ctx context.Context) (T, error) {
	raw, _, err := b.transport.Get(ctx, b.read)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := convertValue[T](raw)
	if err != nil {
		return v, fmt.Errorf("%s: %w", b.Source(), err)
	}
	return v, nil
}

func (b *remoteBackend[T]) SetCallback(cb ReadingValueCallback[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if cb == nil {
		return nil
	}
	source := b.Source()
	cancel, err := b.transport.Monitor(b.read, func(raw any, meta Meta) {
		v, err := convertValue[T](raw)
		if err != nil {
			log.Warn().Str("source", source).Err(err).Msg("dropping monitor update")
			return
		}
		cb(model.Reading{Value: v, Timestamp: meta.Timestamp, AlarmSeverity: meta.Severity}, v)
	})
	if err != nil {
		return fmt.Errorf("%s: monitor: %w", source, err)
	}
	b.cancel = cancel
	return nil
}

func (b *remoteBackend[T]) SettleTimeout() time.Duration {
	if st, ok := b.transport.(SettleTransport); ok {
		return st.SettleTimeout(b.write)
	}
	return 0
}

// convertValue coerces a transport value to T. Numeric kinds convert when the
// value fits the target exactly; anything else must already be a T.
func convertValue[T any](raw any) (T, error) {
	var zero T
	if v, ok := raw.(T); ok {
		return v, nil
	}
	want := reflect.TypeFor[T]()
	if raw == nil {
		if want.Kind() == reflect.Struct && want.NumField() == 0 {
			return zero, nil
		}
		return zero, fmt.Errorf("%w: got nil, want %s", ErrTypeMismatch, want)
	}
	out, ok := convertReflect(reflect.ValueOf(raw), want)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrTypeMismatch, raw, want)
	}
	return out.Interface().(T), nil
}

// convertReflect converts numerics that fit, same-kind values directly, and
// slices element by element (decoded arrays arrive as []any).
func convertReflect(rv reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch {
	case !rv.IsValid():
		return reflect.Value{}, false
	case rv.Type() == want:
		return rv, true
	case isNumeric(rv.Kind()) && isNumeric(want.Kind()):
		return convertNumber(rv, want)
	case rv.Kind() == want.Kind() && rv.Kind() != reflect.Slice && rv.Type().ConvertibleTo(want):
		return rv.Convert(want), true
	case rv.Kind() == reflect.Slice && want.Kind() == reflect.Slice:
		out := reflect.MakeSlice(want, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, ok := convertReflect(rv.Index(i), want.Elem())
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(elem)
		}
		return out, true
	}
	return reflect.Value{}, false
}

// convertNumber refuses conversions that would drop a fraction or wrap.
func convertNumber(rv reflect.Value, want reflect.Type) (reflect.Value, bool) {
	out := reflect.New(want).Elem()
	switch {
	case isInt(want.Kind()):
		var v int64
		switch {
		case isInt(rv.Kind()):
			v = rv.Int()
		case isUint(rv.Kind()):
			if rv.Uint() > math.MaxInt64 {
				return reflect.Value{}, false
			}
			v = int64(rv.Uint())
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, false
			}
			v = int64(f)
		}
		if out.OverflowInt(v) {
			return reflect.Value{}, false
		}
		out.SetInt(v)
	case isUint(want.Kind()):
		var v uint64
		switch {
		case isInt(rv.Kind()):
			if rv.Int() < 0 {
				return reflect.Value{}, false
			}
			v = uint64(rv.Int())
		case isUint(rv.Kind()):
			v = rv.Uint()
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, false
			}
			v = uint64(f)
		}
		if out.OverflowUint(v) {
			return reflect.Value{}, false
		}
		out.SetUint(v)
	default:
		f := rv.Convert(reflect.TypeFor[float64]()).Float()
		if !math.IsInf(f, 0) && !math.IsNaN(f) && out.OverflowFloat(f) {
			return reflect.Value{}, false
		}
		out.SetFloat(f)
	}
	return out, true
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
