package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Decode reads one message from r with the default payload limit.
func Decode(r io.Reader) (*Message, error) {
	return DecodeLimit(r, DefaultMaxPayload)
}

// DecodeLimit reads one message from r, rejecting payloads over maxPayload.
// A clean end of stream before any header byte returns io.EOF.
func DecodeLimit(r io.Reader, maxPayload uint32) (*Message, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	head, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	if head.PayloadLen > maxPayload {
		return nil, ErrPayloadTooLarge
	}

	msg := &Message{Header: head}
	if head.PayloadLen == 0 {
		return msg, nil
	}

	payload := make([]byte, head.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrTruncated
	}
	fields, err := parseFields(payload)
	if err != nil {
		return nil, err
	}
	msg.Fields = fields
	return msg, nil
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) != int(HeaderSize) {
		return Header{}, ErrTruncated
	}
	h := Header{
		Magic:       binary.BigEndian.Uint32(buf[0:4]),
		Version:     binary.BigEndian.Uint16(buf[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(buf[6:8]),
		MessageID:   binary.BigEndian.Uint64(buf[8:16]),
		MessageType: MessageType(binary.BigEndian.Uint16(buf[16:18])),
		Flags:       binary.BigEndian.Uint16(buf[18:20]),
		PayloadLen:  binary.BigEndian.Uint32(buf[20:24]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if h.HeaderLen != HeaderSize {
		return Header{}, ErrInvalidHeaderLen
	}
	return h, nil
}

func parseFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	for offset := 0; offset < len(payload); {
		if len(payload)-offset < fieldHeaderSize {
			return nil, ErrTruncated
		}
		id := binary.BigEndian.Uint16(payload[offset : offset+2])
		ft := FieldType(payload[offset+2])
		length := binary.BigEndian.Uint32(payload[offset+3 : offset+7])
		offset += fieldHeaderSize
		if length > uint32(len(payload)-offset) {
			return nil, ErrInvalidLength
		}
		end := offset + int(length)
		value := make([]byte, length)
		copy(value, payload[offset:end])
		fields = append(fields, Field{ID: id, Type: ft, Value: value})
		offset = end
	}
	return fields, nil
}
