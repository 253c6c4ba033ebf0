package device

import (
	"context"
	"slices"
	"strconv"
	"time"
)

// DefaultTimeout bounds connects and signal waits when no explicit timeout is given.
const DefaultTimeout = 10 * time.Second

// Device is a named node in a device tree.
type Device interface {
	Name() string
	SetName(name string)
	Parent() Device
	SetParent(parent Device)
	Connect(ctx context.Context) error
}

type child struct {
	suffix string
	dev    Device
}

// Base is an embeddable tree node that owns named children.
type Base struct {
	name     string
	parent   Device
	children []child
}

var _ Device = (*Base)(nil)

func (b *Base) Name() string {
	return b.name
}

// SetName names this node and renames every child as name-suffix.
func (b *Base) SetName(name string) {
	b.name = name
	for _, c := range b.children {
		c.dev.SetName(ChildName(name, c.suffix))
	}
}

func (b *Base) Parent() Device {
	return b.parent
}

func (b *Base) SetParent(parent Device) {
	b.parent = parent
}

// Attach adds dev as a child under suffix and names it from the current name.
func (b *Base) Attach(suffix string, dev Device) {
	if dev == nil {
		return
	}
	dev.SetParent(b)
	b.children = append(b.children, child{suffix: suffix, dev: dev})
	dev.SetName(ChildName(b.name, suffix))
}

// Children returns children in attach order.
func (b *Base) Children() []Device {
	out := make([]Device, 0, len(b.children))
	for _, c := range b.children {
		out = append(out, c.dev)
	}
	return out
}

// Connect connects every child concurrently and aggregates failures by suffix.
func (b *Base) Connect(ctx context.Context) error {
	connects := make(map[string]func(context.Context) error, len(b.children))
	for _, c := range b.children {
		connects[c.suffix] = c.dev.Connect
	}
	return WaitForConnection(ctx, connects)
}

// ChildName joins a parent name and a child suffix. An unnamed parent yields an unnamed child.
func ChildName(parent, suffix string) string {
	if parent == "" {
		return ""
	}
	return parent + "-" + suffix
}

// Vector is a device whose children are addressed by integer index.
type Vector[T Device] struct {
	Base
	items map[int]T
}

// NewVector attaches items in ascending index order.
func NewVector[T Device](items map[int]T) *Vector[T] {
	v := &Vector[T]{items: make(map[int]T, len(items))}
	keys := make([]int, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v.items[k] = items[k]
		v.Attach(strconv.Itoa(k), items[k])
	}
	return v
}

func (v *Vector[T]) At(index int) (T, bool) {
	item, ok := v.items[index]
	return item, ok
}

func (v *Vector[T]) Len() int {
	return len(v.items)
}

// Collect names each device after its map key and connects them all concurrently.
// A positive timeout bounds the whole connection phase.
func Collect(ctx context.Context, timeout time.Duration, devices map[string]Device) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	connects := make(map[string]func(context.Context) error, len(devices))
	for name, dev := range devices {
		dev.SetName(name)
		connects[name] = dev.Connect
	}
	return WaitForConnection(ctx, connects)
}
