package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decoding payload: %w", err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("decoding payload: trailing data after document")
	}
	return fromAny(raw), nil
}

// FromStringMap wraps a flat push data map (as delivered by FCM) under a
// "data" member, matching the shape the mobile runtime hands to handlers.
func FromStringMap(data map[string]string) Value {
	fields := make(map[string]Value, len(data))
	for k, v := range data {
		fields[k] = StringValue(v)
	}
	return Value{kind: Object, fields: map[string]Value{
		"data": {kind: Object, fields: fields},
	}}
}

func fromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(v)
	case json.Number:
		return NumberValue(v.String())
	case string:
		return StringValue(v)
	case map[string]any:
		fields := make(map[string]Value, len(v))
		for k, child := range v {
			fields[k] = fromAny(child)
		}
		return Value{kind: Object, fields: fields}
	case []any:
		items := make([]Value, len(v))
		for i, child := range v {
			items[i] = fromAny(child)
		}
		return ArrayValue(items...)
	}
	return NullValue()
}

// MarshalJSON renders the document back to JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Bool:
		return json.Marshal(v.b)
	case Number:
		return []byte(v.text), nil
	case String:
		return json.Marshal(v.text)
	case Object:
		return json.Marshal(v.fields)
	case Array:
		return json.Marshal(v.items)
	}
	return []byte("null"), nil
}

// UnmarshalJSON lets Value be embedded in JSON request bodies.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
