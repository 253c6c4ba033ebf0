package protocol

import "fmt"

// FieldSpec declares a known field within a message type.
type FieldSpec struct {
	ID       uint16
	Type     FieldType
	Required bool
}

// Schema defines required and known fields for a message type.
type Schema struct {
	MessageType MessageType
	Fields      []FieldSpec
}

var schemas = map[MessageType]Schema{
	MessageConnect: {MessageConnect, []FieldSpec{
		{FieldPV, FieldString, true},
	}},
	MessageGet: {MessageGet, []FieldSpec{
		{FieldPV, FieldString, true},
	}},
	MessagePut: {MessagePut, []FieldSpec{
		{FieldPV, FieldString, true},
		{FieldWait, FieldBool, true},
		{FieldValue, FieldBytes, false},
	}},
	MessageMonitor: {MessageMonitor, []FieldSpec{
		{FieldPV, FieldString, true},
		{FieldSubscription, FieldUint64, true},
	}},
	MessageUnmonitor: {MessageUnmonitor, []FieldSpec{
		{FieldSubscription, FieldUint64, true},
	}},
	MessageCancel: {MessageCancel, []FieldSpec{
		{FieldTarget, FieldUint64, true},
	}},
	MessageUpdate: {MessageUpdate, []FieldSpec{
		{FieldSubscription, FieldUint64, true},
		{FieldValue, FieldBytes, true},
		{FieldTimestamp, FieldFloat64, true},
		{FieldSeverity, FieldUint32, true},
	}},
	MessageReply: {MessageReply, []FieldSpec{
		{FieldValue, FieldBytes, false},
		{FieldTimestamp, FieldFloat64, false},
		{FieldSeverity, FieldUint32, false},
		{FieldSettleMS, FieldUint64, false},
		{FieldCode, FieldUint32, false},
		{FieldError, FieldString, false},
	}},
}

var errorReplySchema = Schema{MessageReply, []FieldSpec{
	{FieldCode, FieldUint32, true},
	{FieldError, FieldString, true},
}}

// SchemaFor returns the schema of a message, accounting for error replies.
func SchemaFor(msg *Message) (Schema, error) {
	if msg.Header.MessageType == MessageReply && msg.IsError() {
		return errorReplySchema, nil
	}
	schema, ok := schemas[msg.Header.MessageType]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, msg.Header.MessageType)
	}
	return schema, nil
}

// SemanticMessage is a message whose fields were checked against a schema.
type SemanticMessage struct {
	Header  Header
	Fields  map[uint16]Field
	Unknown []Field
}

// Parse validates msg against the schema for its type.
func Parse(msg *Message) (*SemanticMessage, error) {
	if msg == nil {
		return nil, ErrInvalidLength
	}
	schema, err := SchemaFor(msg)
	if err != nil {
		return nil, err
	}
	return ParseSemantic(msg, schema)
}

// ParseSemantic validates msg against schema. Unknown fields are kept aside.
func ParseSemantic(msg *Message, schema Schema) (*SemanticMessage, error) {
	if msg == nil {
		return nil, ErrInvalidLength
	}
	if msg.Header.MessageType != schema.MessageType {
		return nil, ErrMessageTypeMismatch
	}
	known := make(map[uint16]FieldSpec, len(schema.Fields))
	for _, spec := range schema.Fields {
		known[spec.ID] = spec
	}

	semantic := &SemanticMessage{Header: msg.Header, Fields: make(map[uint16]Field)}
	for _, field := range msg.Fields {
		spec, ok := known[field.ID]
		if !ok {
			semantic.Unknown = append(semantic.Unknown, field)
			continue
		}
		if field.Type != spec.Type {
			return nil, fmt.Errorf("%w: field %d", ErrFieldTypeMismatch, field.ID)
		}
		semantic.Fields[field.ID] = field
	}

	for _, spec := range schema.Fields {
		if _, ok := semantic.Fields[spec.ID]; spec.Required && !ok {
			return nil, MissingFieldError{MessageType: schema.MessageType, FieldID: spec.ID}
		}
	}
	return semantic, nil
}

// MissingFieldError indicates a required field was not present.
type MissingFieldError struct {
	MessageType MessageType
	FieldID     uint16
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: %s missing required field %d", e.MessageType, e.FieldID)
}

func (m *SemanticMessage) Has(id uint16) bool {
	_, ok := m.Fields[id]
	return ok
}

func (m *SemanticMessage) String(id uint16) string {
	v, _ := m.Fields[id].String()
	return v
}

func (m *SemanticMessage) Uint32(id uint16) uint32 {
	v, _ := m.Fields[id].Uint32()
	return v
}

func (m *SemanticMessage) Uint64(id uint16) uint64 {
	v, _ := m.Fields[id].Uint64()
	return v
}

func (m *SemanticMessage) Float64(id uint16) float64 {
	v, _ := m.Fields[id].Float64()
	return v
}

func (m *SemanticMessage) Bool(id uint16) bool {
	v, _ := m.Fields[id].Bool()
	return v
}

// Value decodes the msgpack value field, nil when absent.
func (m *SemanticMessage) Value() (any, error) {
	f, ok := m.Fields[FieldValue]
	if !ok {
		return nil, nil
	}
	return DecodeValue(f.Value)
}
