package session

import (
	"net"
	"sync"
	"time"

	"github.com/danmuck/acqctl/internal/protocol"
)

// outbox queues outgoing messages for one connection. push never blocks, so
// it is safe from monitor callbacks; a single writer drains it in order.
type outbox struct {
	mu     sync.Mutex
	items  []*protocol.Message
	closed bool
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

// push queues msg and reports false once the outbox is closed.
func (o *outbox) push(msg *protocol.Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, msg)
	o.mu.Unlock()
	o.wake()
	return true
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// next blocks until messages are queued, returning them as one batch. It
// returns false once closed and drained.
func (o *outbox) next() ([]*protocol.Message, bool) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			batch := o.items
			o.items = nil
			o.mu.Unlock()
			return batch, true
		}
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		o.mu.Unlock()
		<-o.notify
	}
}

// writeLoop encodes queued messages onto conn until the outbox closes or a
// write fails.
func writeLoop(conn net.Conn, o *outbox, timeout time.Duration) error {
	for {
		batch, ok := o.next()
		if !ok {
			return nil
		}
		for _, msg := range batch {
			if timeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := protocol.Encode(conn, msg); err != nil {
				return err
			}
		}
	}
}
