package signal

import (
	"context"
	"reflect"
	"time"

	"github.com/danmuck/acqctl/internal/model"
)

// ReadingValueCallback receives every value update from a backend.
type ReadingValueCallback[T any] func(reading model.Reading, value T)

// Backend is the transport-specific implementation behind a signal.
type Backend[T any] interface {
	Source() string
	Connect(ctx context.Context) error
	// Put writes value; a nil value re-issues the current one (execute).
	// With wait it returns once the backend reports the write has settled.
	Put(ctx context.Context, value *T, wait bool) error
	Descriptor(ctx context.Context) (model.Descriptor, error)
	Reading(ctx context.Context) (model.Reading, error)
	Value(ctx context.Context) (T, error)
	// SetCallback installs the monitor callback; nil removes it.
	SetCallback(cb ReadingValueCallback[T]) error
}

// SettleEstimator is implemented by backends that can estimate how long a
// waited write takes to settle.
type SettleEstimator interface {
	SettleTimeout() time.Duration
}

// Provider selects the backend implementation for a device tree.
type Provider struct {
	transport Transport
}

// Sim selects the in-memory simulation backend.
func Sim() Provider {
	return Provider{}
}

// Remote selects backends served by t.
func Remote(t Transport) Provider {
	return Provider{transport: t}
}

func (p Provider) IsSim() bool {
	return p.transport == nil
}

// Bind builds the backend for a read/write attribute pair.
func Bind[T any](p Provider, read, write string) Backend[T] {
	if p.transport == nil {
		return NewSimBackend[T](read)
	}
	return newRemoteBackend[T](p.transport, read, write)
}

// Dtype names the document datatype for T.
func Dtype[T any]() string {
	return dtypeOf(reflect.TypeFor[T]())
}

func dtypeOf(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

func shapeOf(v any) []int {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return []int{}
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return []int{rv.Len()}
	default:
		return []int{}
	}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
