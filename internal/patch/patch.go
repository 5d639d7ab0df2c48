// Package patch provides tri-state fields for partial updates.
//
// A Field distinguishes a key that is absent from the payload, a key that
// is explicitly null, and a key carrying a value. Update reducers decode
// their payloads into structs of Fields and apply only the keys present.
package patch

import (
	"bytes"
	"encoding/json"
)

// Field is a JSON field that records whether it was present and whether
// it was null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Of returns a Field holding v.
func Of[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a Field that was explicitly set to null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// UnmarshalJSON is only invoked by encoding/json when the key is present.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// HasValue reports whether the field was present with a non-null value.
func (f Field[T]) HasValue() bool {
	return f.Set && !f.Null
}

// Apply writes the field's value into dst when present and non-null.
// It reports whether dst was written.
func (f Field[T]) Apply(dst *T) bool {
	if !f.HasValue() {
		return false
	}
	*dst = f.Value
	return true
}

// Get returns the value and whether it was present and non-null.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.HasValue()
}
