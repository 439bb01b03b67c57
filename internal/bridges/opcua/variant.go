package opcua

import (
	"fmt"
	"math"
)

// VariantType is the subset of OPC UA built-in types TankWatch exchanges.
type VariantType int

// Variant types.
const (
	TypeUnknown VariantType = iota
	TypeBoolean
	TypeSByte
	TypeInt
	TypeUInt
	TypeDouble
	TypeString
)

// Variant is a typed value read from or written to a controller.
type Variant struct {
	Type  VariantType
	Value any
}

// Bool returns a Boolean variant.
func Bool(b bool) Variant { return Variant{Type: TypeBoolean, Value: b} }

// SByte returns a signed byte variant.
func SByte(v int8) Variant { return Variant{Type: TypeSByte, Value: v} }

// Double returns a Double variant.
func Double(v float64) Variant { return Variant{Type: TypeDouble, Value: v} }

// String returns a String variant.
func String(s string) Variant { return Variant{Type: TypeString, Value: s} }

// VariantOf classifies a decoded Go value.
func VariantOf(v any) Variant {
	switch x := v.(type) {
	case bool:
		return Variant{Type: TypeBoolean, Value: x}
	case int8:
		return Variant{Type: TypeSByte, Value: x}
	case int16, int32, int64, int:
		return Variant{Type: TypeInt, Value: x}
	case uint8, uint16, uint32, uint64, uint:
		return Variant{Type: TypeUInt, Value: x}
	case float32:
		return Variant{Type: TypeDouble, Value: float64(x)}
	case float64:
		return Variant{Type: TypeDouble, Value: x}
	case string:
		return Variant{Type: TypeString, Value: x}
	default:
		return Variant{Type: TypeUnknown, Value: v}
	}
}

// Float returns the value as float64 for any numeric type.
func (v Variant) Float() (float64, error) {
	switch x := v.Value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%w: %T is not numeric", ErrUnexpectedType, v.Value)
	}
}

// Int returns an integral value. Doubles are accepted when they hold a whole number.
func (v Variant) Int() (int64, error) {
	f, err := v.Float()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not integral", ErrUnexpectedType, f)
	}
	return int64(f), nil
}

// Truthy reports whether the value counts as an acknowledgement:
// true, a non-zero number or a non-empty string.
func (v Variant) Truthy() bool {
	switch x := v.Value.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		f, err := v.Float()
		return err == nil && f != 0
	}
}

// Text renders the value for display and logs.
func (v Variant) Text() string {
	if v.Value == nil {
		return ""
	}
	return fmt.Sprint(v.Value)
}
