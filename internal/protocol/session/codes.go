package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/acqctl/internal/protocol"
	"github.com/danmuck/acqctl/internal/signal"
)

var (
	ErrClosed = errors.New("session: closed")
	ErrRemote = errors.New("session: remote error")
)

func codeFor(err error) uint32 {
	switch {
	case errors.Is(err, signal.ErrUnknownPV):
		return protocol.CodeUnknownPV
	case errors.Is(err, signal.ErrTypeMismatch):
		return protocol.CodeTypeMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeCancelled
	}
	return protocol.CodeInternal
}

// replyError turns an error reply back into an error matching the sentinel
// the server saw.
func replyError(reply *protocol.SemanticMessage) error {
	msg := reply.String(protocol.FieldError)
	switch reply.Uint32(protocol.FieldCode) {
	case protocol.CodeUnknownPV:
		return fmt.Errorf("%w: %s", signal.ErrUnknownPV, msg)
	case protocol.CodeTypeMismatch:
		return fmt.Errorf("%w: %s", signal.ErrTypeMismatch, msg)
	case protocol.CodeCancelled:
		return fmt.Errorf("%w: %s", context.Canceled, msg)
	}
	return fmt.Errorf("%w: %s", ErrRemote, msg)
}
