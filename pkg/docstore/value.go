// Package docstore defines the typed document store contract used by the
// ledger and the notification log: a closed sum type of tagged values, the
// Firestore REST wire codec for it, field paths, and the Store interface the
// backends under storage/ implement.
package docstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrUnsupportedValue is returned when a native or wire value has no
// representation in the Value sum type.
var ErrUnsupportedValue = errors.New("docstore: unsupported value")

// Value is one of Null, Bool, Int, Float, String, Array or Map.
type Value interface {
	isValue()
}

type (
	// Null is the absent value.
	Null struct{}
	// Bool is a boolean value.
	Bool bool
	// Int is a 64-bit integer value, kept distinct from Float on the wire.
	Int int64
	// Float is a 64-bit floating point value.
	Float float64
	// String is a UTF-8 string value.
	String string
	// Array is an ordered list of values.
	Array []Value
	// Map is a string-keyed nested document.
	Map map[string]Value
)

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Map) isValue()    {}

// FromNative converts a Go value into a Value. Times are stored as RFC 3339
// strings in UTC.
func FromNative(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int8:
		return Int(v), nil
	case int16:
		return Int(v), nil
	case int32:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(v), nil
	case uint16:
		return Int(v), nil
	case uint32:
		return Int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint64 %d overflows int64", ErrUnsupportedValue, v)
		}
		return Int(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case time.Time:
		return String(v.UTC().Format(time.RFC3339Nano)), nil
	case *time.Time:
		if v == nil {
			return Null{}, nil
		}
		return String(v.UTC().Format(time.RFC3339Nano)), nil
	case []string:
		out := make(Array, len(v))
		for i, s := range v {
			out[i] = String(s)
		}
		return out, nil
	case []any:
		out := make(Array, len(v))
		for i, item := range v {
			conv, err := FromNative(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]string:
		out := make(Map, len(v))
		for k, s := range v {
			out[k] = String(s)
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(v))
		for k, item := range v {
			conv, err := FromNative(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// MustNative is FromNative for values known to be convertible. It panics
// otherwise and is intended for literals.
func MustNative(x any) Value {
	v, err := FromNative(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Native converts a Value back into plain Go values: nil, bool, int64,
// float64, string, []any and map[string]any.
func Native(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Native(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Native(item)
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two values are equal. Numbers compare by value across
// Int and Float, matching the store's equality filter semantics.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		switch y := b.(type) {
		case Float:
			return x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y)))
		case Int:
			return float64(x) == float64(y)
		}
		return false
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Array:
		out := make(Array, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case Map:
		return t.Clone()
	default:
		return v
	}
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Lookup walks path through nested maps.
func (m Map) Lookup(path FieldPath) (Value, bool) {
	var cur Value = m
	for _, seg := range path {
		node, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string stored at key, or "".
func (m Map) String(key string) string {
	if s, ok := m[key].(String); ok {
		return string(s)
	}
	return ""
}

// Bool returns the boolean stored at key, or false.
func (m Map) Bool(key string) bool {
	if b, ok := m[key].(Bool); ok {
		return bool(b)
	}
	return false
}

// Int returns the integer stored at key, or 0. Floats are truncated.
func (m Map) Int(key string) int64 {
	switch n := m[key].(type) {
	case Int:
		return int64(n)
	case Float:
		return int64(n)
	}
	return 0
}

// Map returns the nested map stored at key, or nil.
func (m Map) Map(key string) Map {
	if sub, ok := m[key].(Map); ok {
		return sub
	}
	return nil
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
