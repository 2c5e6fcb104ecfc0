package tensor

import (
	"fmt"
	"strings"
)

// DType identifies the element type of an Array.
type DType int

// Supported element types.
const (
	Invalid DType = iota
	Bool
	Uint8
	Int32
	Int64
	Float32
	Float64
)

// String returns the numpy-style name of the dtype.
func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// TypeStr returns the byte-order-free array-interface code, e.g. "f8".
func (d DType) TypeStr() string {
	switch d {
	case Bool:
		return "b1"
	case Uint8:
		return "u1"
	case Int32:
		return "i4"
	case Int64:
		return "i8"
	case Float32:
		return "f4"
	case Float64:
		return "f8"
	default:
		return ""
	}
}

// ByteOrder returns "|" for single-byte types and "<" otherwise.
// All data is held little-endian.
func (d DType) ByteOrder() string {
	if d.Size() == 1 {
		return "|"
	}
	return "<"
}

// Descr returns the full array-interface descriptor, e.g. "<f8".
func (d DType) Descr() string {
	return d.ByteOrder() + d.TypeStr()
}

// ParseDType accepts a dtype name ("float32"), a type code ("f4") or a
// full descriptor ("<f4"). Big-endian descriptors are rejected.
func ParseDType(s string) (DType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Invalid, fmt.Errorf("%w: empty", ErrUnsupportedDType)
	}
	switch s[0] {
	case '>':
		return Invalid, fmt.Errorf("%w: big-endian %q", ErrUnsupportedDType, s)
	case '<', '|', '=':
		s = s[1:]
	}
	switch s {
	case "bool", "b1", "?":
		return Bool, nil
	case "uint8", "u1":
		return Uint8, nil
	case "int32", "i4":
		return Int32, nil
	case "int64", "i8", "int":
		return Int64, nil
	case "float32", "f4":
		return Float32, nil
	case "float64", "f8", "float":
		return Float64, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
}
