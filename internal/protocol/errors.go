package protocol

import "errors"

var (
	ErrInvalidMagic        = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion  = errors.New("protocol: unsupported version")
	ErrInvalidHeaderLen    = errors.New("protocol: invalid header length")
	ErrPayloadTooLarge     = errors.New("protocol: payload too large")
	ErrTruncated           = errors.New("protocol: truncated data")
	ErrInvalidLength       = errors.New("protocol: invalid length")
	ErrFieldTypeMismatch   = errors.New("protocol: field type mismatch")
	ErrUnknownMessageType  = errors.New("protocol: unknown message type")
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
)
