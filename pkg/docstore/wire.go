package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Wire keys of the store's tagged value representation.
const (
	wireNull      = "nullValue"
	wireBool      = "booleanValue"
	wireInt       = "integerValue"
	wireDouble    = "doubleValue"
	wireString    = "stringValue"
	wireArray     = "arrayValue"
	wireMap       = "mapValue"
	wireTimestamp = "timestampValue"
	wireReference = "referenceValue"
)

// ToWire encodes v into its tagged wire form. Integers are encoded as decimal
// strings and non-finite doubles as "NaN", "Infinity" or "-Infinity".
func ToWire(v Value) map[string]any {
	switch t := v.(type) {
	case nil, Null:
		return map[string]any{wireNull: nil}
	case Bool:
		return map[string]any{wireBool: bool(t)}
	case Int:
		return map[string]any{wireInt: strconv.FormatInt(int64(t), 10)}
	case Float:
		f := float64(t)
		switch {
		case math.IsNaN(f):
			return map[string]any{wireDouble: "NaN"}
		case math.IsInf(f, 1):
			return map[string]any{wireDouble: "Infinity"}
		case math.IsInf(f, -1):
			return map[string]any{wireDouble: "-Infinity"}
		}
		return map[string]any{wireDouble: f}
	case String:
		return map[string]any{wireString: string(t)}
	case Array:
		values := make([]any, len(t))
		for i, item := range t {
			values[i] = ToWire(item)
		}
		return map[string]any{wireArray: map[string]any{"values": values}}
	case Map:
		return map[string]any{wireMap: map[string]any{"fields": EncodeFields(t)}}
	default:
		return map[string]any{wireNull: nil}
	}
}

// EncodeFields encodes a document body into the wire "fields" object.
func EncodeFields(m Map) map[string]any {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		fields[k] = ToWire(v)
	}
	return fields
}

// FromWire decodes a tagged wire value. Numbers must have been decoded with
// json.Decoder.UseNumber or as float64.
func FromWire(raw map[string]any) (Value, error) {
	if len(raw) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrUnsupportedValue, len(raw))
	}
	for tag, payload := range raw {
		switch tag {
		case wireNull:
			return Null{}, nil
		case wireBool:
			b, ok := payload.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: booleanValue %T", ErrUnsupportedValue, payload)
			}
			return Bool(b), nil
		case wireInt:
			return decodeInt(payload)
		case wireDouble:
			return decodeDouble(payload)
		case wireString, wireTimestamp, wireReference:
			s, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s %T", ErrUnsupportedValue, tag, payload)
			}
			return String(s), nil
		case wireArray:
			return decodeArray(payload)
		case wireMap:
			body, ok := payload.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: mapValue %T", ErrUnsupportedValue, payload)
			}
			fields, _ := body["fields"].(map[string]any)
			return DecodeFields(fields)
		default:
			return nil, fmt.Errorf("%w: tag %q", ErrUnsupportedValue, tag)
		}
	}
	return nil, ErrUnsupportedValue
}

// DecodeFields decodes a wire "fields" object into a Map. A nil object
// decodes to an empty Map.
func DecodeFields(fields map[string]any) (Map, error) {
	out := make(Map, len(fields))
	for k, raw := range fields {
		tagged, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is %T", ErrUnsupportedValue, k, raw)
		}
		v, err := FromWire(tagged)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MarshalFields serialises m as a JSON wire "fields" object.
func MarshalFields(m Map) ([]byte, error) {
	return json.Marshal(EncodeFields(m))
}

// UnmarshalFields parses a JSON wire "fields" object.
func UnmarshalFields(data []byte) (Map, error) {
	var fields map[string]any
	if err := DecodeJSON(data, &fields); err != nil {
		return nil, err
	}
	return DecodeFields(fields)
}

// MarshalValue serialises a single tagged value as JSON.
func MarshalValue(v Value) ([]byte, error) {
	return json.Marshal(ToWire(v))
}

// DecodeJSON unmarshals data preserving number precision.
func DecodeJSON(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func decodeInt(payload any) (Value, error) {
	switch n := payload.(type) {
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: integerValue %q", ErrUnsupportedValue, n)
		}
		return Int(i), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: integerValue %q", ErrUnsupportedValue, n)
		}
		return Int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: integerValue %v", ErrUnsupportedValue, n)
		}
		return Int(int64(n)), nil
	}
	return nil, fmt.Errorf("%w: integerValue %T", ErrUnsupportedValue, payload)
}

func decodeDouble(payload any) (Value, error) {
	switch n := payload.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: doubleValue %q", ErrUnsupportedValue, n)
		}
		return Float(f), nil
	case float64:
		return Float(n), nil
	case string:
		switch n {
		case "NaN":
			return Float(math.NaN()), nil
		case "Infinity":
			return Float(math.Inf(1)), nil
		case "-Infinity":
			return Float(math.Inf(-1)), nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: doubleValue %q", ErrUnsupportedValue, n)
		}
		return Float(f), nil
	}
	return nil, fmt.Errorf("%w: doubleValue %T", ErrUnsupportedValue, payload)
}

func decodeArray(payload any) (Value, error) {
	body, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: arrayValue %T", ErrUnsupportedValue, payload)
	}
	rawValues, _ := body["values"].([]any)
	out := make(Array, len(rawValues))
	for i, raw := range rawValues {
		tagged, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: array element %d is %T", ErrUnsupportedValue, i, raw)
		}
		v, err := FromWire(tagged)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
