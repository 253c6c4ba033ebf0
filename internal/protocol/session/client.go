package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/protocol"
	"github.com/danmuck/acqctl/internal/signal"
)

const Scheme = "acqw"

var (
	_ signal.Transport       = (*Client)(nil)
	_ signal.SettleTransport = (*Client)(nil)
)

// Client is a signal.Transport over one session connection. Requests are
// correlated by message id; monitor updates by subscription id.
type Client struct {
	cfg      Config
	addr     string
	conn     net.Conn
	reader   *bufio.Reader
	out      *outbox
	serverID string
	pvCount  int

	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan *protocol.Message
	monitors map[uint64]func(any, signal.Meta)
	settle   map[string]time.Duration
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to addr, performs the hello exchange and starts the
// connection loops.
func Dial(ctx context.Context, addr, clientID string, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	conn, err := dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReader(conn)
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	if err := WriteHello(conn, Hello{ClientID: clientID, Version: protocol.Version}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	ack, err := ReadHelloAck(reader)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})

	c := &Client{
		cfg:      cfg,
		addr:     addr,
		conn:     conn,
		reader:   reader,
		out:      newOutbox(),
		serverID: ack.ServerID,
		pvCount:  ack.PVCount,
		pending:  make(map[uint64]chan *protocol.Message),
		monitors: make(map[uint64]func(any, signal.Meta)),
		settle:   make(map[string]time.Duration),
		done:     make(chan struct{}),
	}
	go func() {
		if err := writeLoop(conn, c.out, cfg.WriteTimeout); err != nil {
			c.fail(err)
		}
	}()
	go c.readLoop()
	log.Info().Str("addr", addr).Str("server", ack.ServerID).Int("pvs", ack.PVCount).Msg("session established")
	return c, nil
}

func dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) ServerID() string {
	return c.serverID
}

// PVCount is the number of names the server reported at hello time.
func (c *Client) PVCount() int {
	return c.pvCount
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, nil while it is up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[uint64]chan *protocol.Message)
		c.monitors = make(map[uint64]func(any, signal.Meta))
		c.mu.Unlock()
		c.out.close()
		_ = c.conn.Close()
		close(c.done)
		if !errors.Is(err, ErrClosed) {
			log.Warn().Str("addr", c.addr).Err(err).Msg("session lost")
		}
	})
}

func (c *Client) readLoop() {
	for {
		msg, err := protocol.DecodeLimit(c.reader, c.cfg.MaxPayload)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			c.fail(err)
			return
		}
		switch msg.Header.MessageType {
		case protocol.MessageReply:
			c.mu.Lock()
			ch, ok := c.pending[msg.Header.MessageID]
			delete(c.pending, msg.Header.MessageID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case protocol.MessageUpdate:
			c.dispatchUpdate(msg)
		default:
			log.Debug().Str("type", msg.Header.MessageType.String()).Msg("ignoring unexpected message")
		}
	}
}

func (c *Client) dispatchUpdate(msg *protocol.Message) {
	update, err := protocol.Parse(msg)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed update")
		return
	}
	sub := update.Uint64(protocol.FieldSubscription)
	c.mu.Lock()
	cb := c.monitors[sub]
	c.mu.Unlock()
	if cb == nil {
		return
	}
	value, err := update.Value()
	if err != nil {
		log.Warn().Uint64("subscription", sub).Err(err).Msg("dropping update")
		return
	}
	cb(value, signal.Meta{
		Timestamp: update.Float64(protocol.FieldTimestamp),
		Severity:  int(update.Uint32(protocol.FieldSeverity)),
	})
}

// request sends msg and waits for its reply. When ctx ends first and
// cancelRemote is set, the server is asked to abandon the request.
func (c *Client) request(ctx context.Context, msg *protocol.Message, cancelRemote bool) (*protocol.SemanticMessage, error) {
	id := msg.Header.MessageID
	ch := make(chan *protocol.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if !c.out.push(msg) {
		c.forget(id)
		return nil, ErrClosed
	}

	select {
	case reply := <-ch:
		parsed, err := protocol.Parse(reply)
		if err != nil {
			return nil, err
		}
		if reply.IsError() {
			return nil, replyError(parsed)
		}
		return parsed, nil
	case <-ctx.Done():
		c.forget(id)
		if cancelRemote {
			c.out.push(protocol.NewRequest(protocol.MessageCancel, c.newID(),
				protocol.NewFieldUint64(protocol.FieldTarget, id)))
		}
		return nil, ctx.Err()
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) newID() uint64 {
	return c.nextID.Add(1)
}

func (c *Client) boundedRequest(ctx context.Context, msg *protocol.Message) (*protocol.SemanticMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.request(ctx, msg, false)
}

func (c *Client) Scheme() string {
	return Scheme
}

// Connect checks that pv exists on the server and records its settle time.
func (c *Client) Connect(ctx context.Context, pv string) error {
	reply, err := c.boundedRequest(ctx, protocol.NewRequest(protocol.MessageConnect, c.newID(),
		protocol.NewFieldString(protocol.FieldPV, pv)))
	if err != nil {
		return err
	}
	if reply.Has(protocol.FieldSettleMS) {
		c.mu.Lock()
		c.settle[pv] = time.Duration(reply.Uint64(protocol.FieldSettleMS)) * time.Millisecond
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) Get(ctx context.Context, pv string) (any, signal.Meta, error) {
	reply, err := c.boundedRequest(ctx, protocol.NewRequest(protocol.MessageGet, c.newID(),
		protocol.NewFieldString(protocol.FieldPV, pv)))
	if err != nil {
		return nil, signal.Meta{}, err
	}
	value, err := reply.Value()
	if err != nil {
		return nil, signal.Meta{}, err
	}
	return value, signal.Meta{
		Timestamp: reply.Float64(protocol.FieldTimestamp),
		Severity:  int(reply.Uint32(protocol.FieldSeverity)),
	}, nil
}

// Put is bounded only by ctx, since a waited put lasts as long as the
// server-side operation.
func (c *Client) Put(ctx context.Context, pv string, value any, wait bool) error {
	field, err := protocol.NewFieldValue(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, protocol.NewRequest(protocol.MessagePut, c.newID(),
		protocol.NewFieldString(protocol.FieldPV, pv),
		protocol.NewFieldBool(protocol.FieldWait, wait),
		field,
	), true)
	return err
}

// Monitor subscribes to pv. Updates are delivered on the read loop, so cb
// must not block.
func (c *Client) Monitor(pv string, cb func(value any, meta signal.Meta)) (func(), error) {
	sub := c.newID()
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.monitors[sub] = cb
	c.mu.Unlock()

	_, err := c.boundedRequest(context.Background(), protocol.NewRequest(protocol.MessageMonitor, c.newID(),
		protocol.NewFieldString(protocol.FieldPV, pv),
		protocol.NewFieldUint64(protocol.FieldSubscription, sub),
	))
	if err != nil {
		c.mu.Lock()
		delete(c.monitors, sub)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.monitors, sub)
			c.mu.Unlock()
			c.out.push(protocol.NewRequest(protocol.MessageUnmonitor, c.newID(),
				protocol.NewFieldUint64(protocol.FieldSubscription, sub)))
		})
	}, nil
}

func (c *Client) SettleTimeout(pv string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settle[pv]
}
