package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which member of the Value union is set.
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "absent"
	}
}

// Value is a single entry of a report instance: a string, a number, a
// boolean, or absent. The zero Value is absent.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// Absent is the value of a key that was sent as null.
func Absent() Value { return Value{} }

// String wraps a text value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string member and whether it is set.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number member and whether it is set.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the boolean member and whether it is set.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the underlying Go value, nil when absent.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts scalars and null. Objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Absent()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[':
		return fmt.Errorf("report value must be a string, number, boolean or null")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid report value %s: %w", data, err)
		}
		*v = Number(n)
	}
	return nil
}

// ValueMap maps a field name to what was entered for it.
type ValueMap map[string]Value

// FromInterfaces converts a decoded JSON object into a ValueMap.
func FromInterfaces(raw map[string]interface{}) (ValueMap, error) {
	out := make(ValueMap, len(raw))
	for k, x := range raw {
		switch t := x.(type) {
		case nil:
			out[k] = Absent()
		case string:
			out[k] = String(t)
		case bool:
			out[k] = Bool(t)
		case float64:
			out[k] = Number(t)
		case float32:
			out[k] = Number(float64(t))
		case int:
			out[k] = Number(float64(t))
		case int64:
			out[k] = Number(float64(t))
		case json.Number:
			n, err := t.Float64()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = Number(n)
		default:
			return nil, fmt.Errorf("field %s: unsupported value type %T", k, x)
		}
	}
	return out, nil
}

// Clone returns a shallow copy; Values are immutable so this is a deep copy.
func (m ValueMap) Clone() ValueMap {
	out := make(ValueMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
