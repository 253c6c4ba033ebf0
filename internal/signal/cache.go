package signal

import (
	"slices"
	"sync"

	"github.com/danmuck/acqctl/internal/model"
)

// cache fans one backend monitor out to every subscriber of a signal.
// Deliveries are serialized so each subscriber sees values in order.
type cache[T any] struct {
	deliver sync.Mutex

	mu        sync.Mutex
	valid     bool
	reading   model.Reading
	value     T
	listeners map[uint64]ReadingValueCallback[T]
	next      uint64
}

func newCache[T any]() *cache[T] {
	return &cache[T]{listeners: make(map[uint64]ReadingValueCallback[T])}
}

func (c *cache[T]) update(reading model.Reading, value T) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	c.valid = true
	c.reading = reading
	c.value = value
	listeners := c.snapshotLocked()
	c.mu.Unlock()

	for _, cb := range listeners {
		cb(reading, value)
	}
}

// add registers cb and, when a value is already cached, delivers it first.
func (c *cache[T]) add(cb ReadingValueCallback[T]) uint64 {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = cb
	valid, reading, value := c.valid, c.reading, c.value
	c.mu.Unlock()

	if valid {
		cb(reading, value)
	}
	return id
}

// remove drops a listener and reports how many remain.
func (c *cache[T]) remove(id uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
	return len(c.listeners)
}

func (c *cache[T]) latest() (model.Reading, T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading, c.value, c.valid
}

func (c *cache[T]) snapshotLocked() []ReadingValueCallback[T] {
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]ReadingValueCallback[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}
