package protocol

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeValue packs a process-variable value. Payload-free values (nil and
// empty structs) encode as msgpack nil.
func EncodeValue(v any) ([]byte, error) {
	if v != nil {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Struct && rv.NumField() == 0 {
			v = nil
		}
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode value %T: %w", v, err)
	}
	return b, nil
}

// DecodeValue unpacks a value. Integers decode as int64 or uint64, floats as
// float64, arrays as []any.
func DecodeValue(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("protocol: decode value: %w", err)
	}
	return v, nil
}

// NewFieldValue encodes v into a value field.
func NewFieldValue(v any) (Field, error) {
	b, err := EncodeValue(v)
	if err != nil {
		return Field{}, err
	}
	return Field{ID: FieldValue, Type: FieldBytes, Value: b}, nil
}
