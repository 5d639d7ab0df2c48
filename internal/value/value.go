package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the payload value types.
type Value interface {
	value()
}

// Null is an explicit JSON null. In a patch payload it clears a field.
type Null struct{}

func (Null) value() {}

// String is a string value.
type String string

func (String) value() {}

// Int is an integer value. Always int64, never float64.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Has reports whether key is present, including explicit nulls.
func (obj Object) Has(key string) bool {
	_, ok := obj[key]
	return ok
}

// Str returns the string stored at key. ok is false if the key is absent,
// null, or not a string.
func (obj Object) Str(key string) (s string, ok bool) {
	v, ok := obj[key].(String)
	return string(v), ok
}

// Clone returns a deep copy of obj.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = Clone(v)
	}
	return out
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's native string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
// Large integers are decoded through json.Number to avoid float64
// precision loss; any non-integral number is rejected.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	switch o := v.(type) {
	case Object:
		*obj = o
	case Null:
		*obj = nil
	default:
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
func (obj Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(obj)
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	switch a := v.(type) {
	case Array:
		*arr = a
	case Null:
		*arr = nil
	default:
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(arr)
}

// Parse decodes JSON into a Value. null decodes to Null and floats are
// rejected.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return From(raw)
}

// From converts a decoded Go value (as produced by encoding/json with
// UseNumber, or by yaml.v3) into a Value.
func From(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not allowed: %v", val)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			e, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = String(elem)
		}
		return arr, nil
	case []int:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = Int(elem)
		}
		return arr, nil
	case []int64:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = Int(elem)
		}
		return arr, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, elem := range val {
			obj[k] = String(elem)
		}
		return obj, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			e, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = e
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ObjectFrom is From restricted to objects.
func ObjectFrom(m map[string]any) (Object, error) {
	v, err := From(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// Equal reports deep equality of two values.
func Equal(a, b Value) bool {
	ab, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
