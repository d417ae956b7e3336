package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DataType is the declared type of a measurement or condition value.
type DataType string

// Supported measurement data types.
const (
	TypeNumeric DataType = "numeric"
	TypeText    DataType = "text"
	TypeBoolean DataType = "boolean"
)

// Valid reports whether t is a supported data type.
func (t DataType) Valid() bool {
	return t == TypeNumeric || t == TypeText || t == TypeBoolean
}

// Value is a typed scalar. The zero Value (empty Type) means "no value".
// On the wire it is the bare JSON scalar: number, string, or boolean.
type Value struct {
	Type   DataType
	Number float64
	Text   string
	Bool   bool
}

// Number builds a numeric value.
func Number(v float64) Value { return Value{Type: TypeNumeric, Number: v} }

// Text builds a text value.
func Text(s string) Value { return Value{Type: TypeText, Text: s} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{Type: TypeBoolean, Bool: b} }

// IsZero reports whether no value is present. Blank text counts as absent.
func (v Value) IsZero() bool {
	switch v.Type {
	case TypeNumeric, TypeBoolean:
		return false
	case TypeText:
		return strings.TrimSpace(v.Text) == ""
	}
	return true
}

// Equal reports whether both values have the same type and payload.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeNumeric:
		return v.Number == o.Number
	case TypeText:
		return v.Text == o.Text
	case TypeBoolean:
		return v.Bool == o.Bool
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case TypeNumeric:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case TypeText:
		return v.Text
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// Ptr returns a pointer to a copy of v.
func (v Value) Ptr() *Value { return &v }

// MarshalJSON encodes the value as its bare scalar, or null when absent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeNumeric:
		return json.Marshal(v.Number)
	case TypeText:
		return json.Marshal(v.Text)
	case TypeBoolean:
		return json.Marshal(v.Bool)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a bare scalar, inferring the type from the token.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON/YAML scalar into a Value.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return Text(x), nil
	case bool:
		return Bool(x), nil
	case Value:
		return x, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}
