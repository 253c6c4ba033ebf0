package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/acqctl/internal/protocol"
)

const (
	controlTypeHello    = "acqw.hello"
	controlTypeHelloAck = "acqw.hello.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxControlLine = 64 * 1024
)

var (
	ErrInvalidHello           = errors.New("session: invalid hello")
	ErrInvalidHelloAck        = errors.New("session: invalid hello ack")
	ErrHelloRejected          = errors.New("session: hello rejected")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Hello opens a session from the client side.
type Hello struct {
	ClientID string `json:"client_id"`
	Version  uint16 `json:"version"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.ClientID) == "" {
		return fmt.Errorf("%w: missing client_id", ErrInvalidHello)
	}
	if h.Version != protocol.Version {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidHello, h.Version, protocol.Version)
	}
	return nil
}

// HelloAck answers a Hello.
type HelloAck struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	ServerID    string `json:"server_id"`
	PVCount     int    `json:"pv_count"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if strings.TrimSpace(a.ServerID) == "" {
		return fmt.Errorf("%w: missing server_id", ErrInvalidHelloAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidHelloAck)
	}
	return nil
}

type controlEnvelope struct {
	Type  string    `json:"type"`
	Hello *Hello    `json:"hello,omitempty"`
	Ack   *HelloAck `json:"hello_ack,omitempty"`
}

func WriteHello(w io.Writer, h Hello) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeHello, Hello: &h})
}

// ReadHello reads one hello line. A malformed hello is returned with
// ErrInvalidHello so the caller can still answer with a rejection.
func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != controlTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidHello, env.Type)
	}
	return *env.Hello, env.Hello.Validate()
}

func WriteHelloAck(w io.Writer, ack HelloAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeHelloAck, Ack: &ack})
}

func ReadHelloAck(r *bufio.Reader) (HelloAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != controlTypeHelloAck || env.Ack == nil {
		return HelloAck{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidHelloAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return controlEnvelope{}, err
		}
		line = append(line, chunk...)
		if len(line) > maxControlLine {
			return controlEnvelope{}, ErrControlMessageTooLarge
		}
		if !isPrefix {
			break
		}
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
