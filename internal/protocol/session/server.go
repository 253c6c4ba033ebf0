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
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/protocol"
	"github.com/danmuck/acqctl/internal/signal"
)

// Server exposes a signal.Transport to session clients.
type Server struct {
	ID        string
	cfg       Config
	transport signal.Transport

	mu      sync.Mutex
	conns   map[*serverConn]struct{}
	closing bool
}

func NewServer(id string, t signal.Transport, cfg Config) *Server {
	return &Server{
		ID:        id,
		cfg:       cfg.WithDefaults(),
		transport: t,
		conns:     make(map[*serverConn]struct{}),
	}
}

// Listen opens a TCP or TLS listener on addr according to the transport policy.
func (s *Server) Listen(addr string) (net.Listener, error) {
	if err := s.cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := s.cfg.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Serve accepts sessions on ln until ctx ends. Live sessions are closed on
// the way out.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.ValidateServerTransport(); err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()

	log.Info().Str("server", s.ID).Str("addr", ln.Addr().String()).Msg("session server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Sessions is the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *Server) pvCount() int {
	if lister, ok := s.transport.(interface{ PVs() []string }); ok {
		return len(lister.PVs())
	}
	return 0
}

func (s *Server) handle(conn net.Conn) {
	hello, reader, err := s.accept(conn)
	if err != nil {
		log.Warn().Str("remote", conn.RemoteAddr().String()).Err(err).Msg("session rejected")
		_ = conn.Close()
		return
	}

	c := &serverConn{
		srv:      s,
		conn:     conn,
		reader:   reader,
		out:      newOutbox(),
		client:   hello.ClientID,
		inflight: make(map[uint64]context.CancelFunc),
		monitors: make(map[uint64]func()),
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	logger := log.With().Str("client", hello.ClientID).Str("peer", peerIdentity(conn)).Logger()
	logger.Info().Msg("session opened")
	go func() {
		if err := writeLoop(conn, c.out, s.cfg.WriteTimeout); err != nil {
			logger.Debug().Err(err).Msg("session write ended")
			c.close()
		}
	}()
	if err := c.readLoop(); err != nil {
		logger.Warn().Err(err).Msg("session ended")
		return
	}
	logger.Info().Msg("session closed")
}

// accept runs the TLS and hello handshakes under the handshake deadline.
func (s *Server) accept(conn net.Conn) (Hello, *bufio.Reader, error) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			return Hello{}, nil, err
		}
	}
	reader := bufio.NewReader(conn)
	hello, err := ReadHello(reader)
	ack := HelloAck{
		Status:      AckStatusAccepted,
		ServerID:    s.ID,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if err != nil {
		if !errors.Is(err, ErrInvalidHello) {
			return Hello{}, nil, err
		}
		ack.Status = AckStatusRejected
		ack.Message = err.Error()
		_ = WriteHelloAck(conn, ack)
		return Hello{}, nil, err
	}
	ack.PVCount = s.pvCount()
	if err := WriteHelloAck(conn, ack); err != nil {
		return Hello{}, nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return hello, reader, nil
}

type serverConn struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	out    *outbox
	client string

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
	monitors map[uint64]func()
	closed   bool
}

func (c *serverConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	inflight := c.inflight
	monitors := c.monitors
	c.inflight = make(map[uint64]context.CancelFunc)
	c.monitors = make(map[uint64]func())
	c.mu.Unlock()

	for _, cancel := range inflight {
		cancel()
	}
	for _, cancel := range monitors {
		cancel()
	}
	c.out.close()
	_ = c.conn.Close()
}

func (c *serverConn) readLoop() error {
	for {
		msg, err := protocol.DecodeLimit(c.reader, c.srv.cfg.MaxPayload)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		req, err := protocol.Parse(msg)
		if err != nil {
			c.out.push(protocol.NewErrorReply(msg.Header.MessageID, protocol.CodeInvalid, err))
			continue
		}
		c.dispatch(req)
	}
}

type handler func(ctx context.Context, req *protocol.SemanticMessage) (*protocol.Message, error)

func (c *serverConn) dispatch(req *protocol.SemanticMessage) {
	id := req.Header.MessageID
	switch req.Header.MessageType {
	case protocol.MessageConnect:
		c.spawn(req, c.connect)
	case protocol.MessageGet:
		c.spawn(req, c.get)
	case protocol.MessagePut:
		c.spawn(req, c.put)
	case protocol.MessageMonitor:
		if err := c.monitor(req); err != nil {
			c.out.push(protocol.NewErrorReply(id, codeFor(err), err))
			return
		}
		c.out.push(protocol.NewReply(id))
	case protocol.MessageUnmonitor:
		c.unmonitor(req.Uint64(protocol.FieldSubscription))
		c.out.push(protocol.NewReply(id))
	case protocol.MessageCancel:
		c.cancel(req.Uint64(protocol.FieldTarget))
	default:
		c.out.push(protocol.NewErrorReply(id, protocol.CodeInvalid,
			fmt.Errorf("unexpected %s request", req.Header.MessageType)))
	}
}

// spawn runs a request on its own goroutine, with a context that a cancel
// message naming the request can end.
func (c *serverConn) spawn(req *protocol.SemanticMessage, fn handler) {
	id := req.Header.MessageID
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.inflight[id] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, id)
			c.mu.Unlock()
			cancel()
		}()
		reply, err := fn(ctx, req)
		if err != nil {
			c.out.push(protocol.NewErrorReply(id, codeFor(err), err))
			return
		}
		c.out.push(reply)
	}()
}

func (c *serverConn) cancel(target uint64) {
	c.mu.Lock()
	cancel, ok := c.inflight[target]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *serverConn) connect(ctx context.Context, req *protocol.SemanticMessage) (*protocol.Message, error) {
	pv := req.String(protocol.FieldPV)
	ctx, cancel := context.WithTimeout(ctx, c.srv.cfg.RequestTimeout)
	defer cancel()
	if err := c.srv.transport.Connect(ctx, pv); err != nil {
		return nil, err
	}
	reply := protocol.NewReply(req.Header.MessageID)
	if st, ok := c.srv.transport.(signal.SettleTransport); ok {
		if d := st.SettleTimeout(pv); d > 0 {
			reply.Fields = append(reply.Fields, protocol.NewFieldUint64(protocol.FieldSettleMS, uint64(d.Milliseconds())))
		}
	}
	return reply, nil
}

func (c *serverConn) get(ctx context.Context, req *protocol.SemanticMessage) (*protocol.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.srv.cfg.RequestTimeout)
	defer cancel()
	value, meta, err := c.srv.transport.Get(ctx, req.String(protocol.FieldPV))
	if err != nil {
		return nil, err
	}
	field, err := protocol.NewFieldValue(value)
	if err != nil {
		return nil, err
	}
	return protocol.NewReply(req.Header.MessageID,
		field,
		protocol.NewFieldFloat64(protocol.FieldTimestamp, meta.Timestamp),
		protocol.NewFieldUint32(protocol.FieldSeverity, uint32(meta.Severity)),
	), nil
}

func (c *serverConn) put(ctx context.Context, req *protocol.SemanticMessage) (*protocol.Message, error) {
	value, err := req.Value()
	if err != nil {
		return nil, err
	}
	if err := c.srv.transport.Put(ctx, req.String(protocol.FieldPV), value, req.Bool(protocol.FieldWait)); err != nil {
		return nil, err
	}
	return protocol.NewReply(req.Header.MessageID), nil
}

// monitor subscribes on the read loop so that a following unmonitor always
// finds the subscription. Updates go through the outbox and never block the
// transport callback.
func (c *serverConn) monitor(req *protocol.SemanticMessage) error {
	sub := req.Uint64(protocol.FieldSubscription)
	cancel, err := c.srv.transport.Monitor(req.String(protocol.FieldPV), func(value any, meta signal.Meta) {
		field, err := protocol.NewFieldValue(value)
		if err != nil {
			log.Warn().Uint64("subscription", sub).Err(err).Msg("dropping update")
			return
		}
		c.out.push(protocol.NewRequest(protocol.MessageUpdate, 0,
			protocol.NewFieldUint64(protocol.FieldSubscription, sub),
			field,
			protocol.NewFieldFloat64(protocol.FieldTimestamp, meta.Timestamp),
			protocol.NewFieldUint32(protocol.FieldSeverity, uint32(meta.Severity)),
		))
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if prev, ok := c.monitors[sub]; ok {
		prev()
	}
	c.monitors[sub] = cancel
	c.mu.Unlock()
	return nil
}

func (c *serverConn) unmonitor(sub uint64) {
	c.mu.Lock()
	cancel, ok := c.monitors[sub]
	delete(c.monitors, sub)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
