package protocol

import "fmt"

const (
	Magic      uint32 = 0x41435157 // "ACQW"
	Version    uint16 = 1
	HeaderSize uint16 = 24

	DefaultMaxPayload uint32 = 8 * 1024 * 1024
)

const (
	FlagResponse uint16 = 0x01
	FlagError    uint16 = 0x02
)

type MessageType uint16

const (
	MessageConnect MessageType = iota + 1
	MessageGet
	MessagePut
	MessageMonitor
	MessageUnmonitor
	MessageCancel
	MessageUpdate
	MessageReply
)

func (t MessageType) String() string {
	switch t {
	case MessageConnect:
		return "connect"
	case MessageGet:
		return "get"
	case MessagePut:
		return "put"
	case MessageMonitor:
		return "monitor"
	case MessageUnmonitor:
		return "unmonitor"
	case MessageCancel:
		return "cancel"
	case MessageUpdate:
		return "update"
	case MessageReply:
		return "reply"
	default:
		return fmt.Sprintf("message(%d)", uint16(t))
	}
}

type FieldType uint8

const (
	FieldUint32 FieldType = iota + 1
	FieldUint64
	FieldBool
	FieldString
	FieldBytes
	FieldFloat64
)

// Field IDs.
const (
	FieldPV           uint16 = 1
	FieldValue        uint16 = 2
	FieldTimestamp    uint16 = 3
	FieldSeverity     uint16 = 4
	FieldWait         uint16 = 5
	FieldSubscription uint16 = 6
	FieldSettleMS     uint16 = 7
	FieldTarget       uint16 = 8
	FieldError        uint16 = 9
	FieldCode         uint16 = 10
)

// Error codes carried by error replies.
const (
	CodeInternal uint32 = iota + 1
	CodeUnknownPV
	CodeTypeMismatch
	CodeCancelled
	CodeInvalid
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType MessageType
	Flags       uint16
	PayloadLen  uint32
}

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  FieldType
	Value []byte
}

// Message is one complete wire message.
type Message struct {
	Header Header
	Fields []Field
}

func NewRequest(t MessageType, id uint64, fields ...Field) *Message {
	return &Message{Header: Header{MessageID: id, MessageType: t}, Fields: fields}
}

// NewReply answers request id.
func NewReply(id uint64, fields ...Field) *Message {
	return &Message{
		Header: Header{MessageID: id, MessageType: MessageReply, Flags: FlagResponse},
		Fields: fields,
	}
}

// NewErrorReply answers request id with a coded failure.
func NewErrorReply(id uint64, code uint32, err error) *Message {
	return &Message{
		Header: Header{MessageID: id, MessageType: MessageReply, Flags: FlagResponse | FlagError},
		Fields: []Field{
			NewFieldUint32(FieldCode, code),
			NewFieldString(FieldError, err.Error()),
		},
	}
}

func (m *Message) IsError() bool {
	return m.Header.Flags&FlagError != 0
}
