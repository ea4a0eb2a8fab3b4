package payload

import (
	"sort"
	"strconv"
)

// Kind identifies the type of a Value node.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one node of a push payload document. The zero Value is Null.
//
// Numbers keep their literal text so that "1" and "1.0" extract exactly as
// the sender wrote them.
type Value struct {
	kind   Kind
	b      bool
	text   string // String and Number
	fields map[string]Value
	items  []Value
}

func NullValue() Value            { return Value{} }
func BoolValue(b bool) Value      { return Value{kind: Bool, b: b} }
func StringValue(s string) Value  { return Value{kind: String, text: s} }
func ArrayValue(v ...Value) Value { return Value{kind: Array, items: v} }

// NumberValue builds a Number from its literal text, e.g. "42" or "2.5".
func NumberValue(literal string) Value { return Value{kind: Number, text: literal} }

// IntValue builds a Number from an integer.
func IntValue(n int64) Value { return NumberValue(strconv.FormatInt(n, 10)) }

// ObjectValue builds an Object from alternating key/value pairs.
func ObjectValue(kvs ...any) Value {
	fields := make(map[string]Value, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, _ := kvs[i].(string)
		switch v := kvs[i+1].(type) {
		case Value:
			fields[key] = v
		case string:
			fields[key] = StringValue(v)
		case bool:
			fields[key] = BoolValue(v)
		case int:
			fields[key] = IntValue(int64(v))
		case nil:
			fields[key] = NullValue()
		}
	}
	return Value{kind: Object, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

// Get returns the member of an Object. Any other kind reports false.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	child, ok := v.fields[key]
	return child, ok
}

// Keys returns the member names of an Object in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the element count of an Array or the member count of an Object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.fields)
	}
	return 0
}

// Text returns the canonical textual form of a scalar leaf. Null, Object
// and Array are not scalars and report false.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case String, Number:
		return v.text, true
	case Bool:
		return strconv.FormatBool(v.b), true
	}
	return "", false
}
