package protocol

import (
	"encoding/binary"
	"io"
)

const fieldHeaderSize = 2 + 1 + 4

// Encode writes msg to w in one Write call.
func Encode(w io.Writer, msg *Message) error {
	if msg == nil {
		return ErrInvalidLength
	}
	payloadLen, err := payloadLength(msg.Fields)
	if err != nil {
		return err
	}
	if payloadLen > DefaultMaxPayload {
		return ErrPayloadTooLarge
	}

	head := msg.Header
	head.Magic = Magic
	head.Version = Version
	head.HeaderLen = HeaderSize
	head.PayloadLen = payloadLen

	buf := make([]byte, 0, int(HeaderSize)+int(payloadLen))
	buf = append(buf, encodeHeader(head)...)
	for _, field := range msg.Fields {
		buf = appendField(buf, field)
	}
	_, err = w.Write(buf)
	return err
}

func payloadLength(fields []Field) (uint32, error) {
	var total uint64
	for _, field := range fields {
		if uint64(len(field.Value)) > uint64(^uint32(0)) {
			return 0, ErrInvalidLength
		}
		total += uint64(fieldHeaderSize + len(field.Value))
	}
	if total > uint64(^uint32(0)) {
		return 0, ErrPayloadTooLarge
	}
	return uint32(total), nil
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint16(buf[16:18], uint16(h.MessageType))
	binary.BigEndian.PutUint16(buf[18:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	return buf
}

func appendField(buf []byte, field Field) []byte {
	var head [fieldHeaderSize]byte
	binary.BigEndian.PutUint16(head[0:2], field.ID)
	head[2] = byte(field.Type)
	binary.BigEndian.PutUint32(head[3:7], uint32(len(field.Value)))
	buf = append(buf, head[:]...)
	return append(buf, field.Value...)
}
