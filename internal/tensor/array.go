// Package tensor holds the numeric values exchanged with the export pipeline.
//
// An Array is a plain host-memory buffer: a dtype, a C-order shape and the
// little-endian element bytes. Values handed in by a host come in two
// variants (TensorBacked and PlainArray) and both materialize into an Array.
package tensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Array is a dense multi-dimensional array in host memory.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewArray validates that data holds exactly the elements described by
// dtype and shape. The slices are retained, not copied.
func NewArray(dtype DType, shape []int, data []byte) (Array, error) {
	if dtype.Size() == 0 {
		return Array{}, fmt.Errorf("%w: %v", ErrUnsupportedDType, dtype)
	}
	n, err := numElements(shape)
	if err != nil {
		return Array{}, err
	}
	if len(data) != n*dtype.Size() {
		return Array{}, fmt.Errorf("%w: shape %v needs %d bytes of %s, got %d",
			ErrShapeMismatch, shape, n*dtype.Size(), dtype, len(data))
	}
	return Array{DType: dtype, Shape: shape, Data: data}, nil
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of elements.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Frames returns the size of the leading dimension.
func (a Array) Frames() (int, error) {
	if len(a.Shape) == 0 {
		return 0, ErrScalar
	}
	return a.Shape[0], nil
}

// Clone returns a deep copy.
func (a Array) Clone() Array {
	return Array{
		DType: a.DType,
		Shape: slices.Clone(a.Shape),
		Data:  bytes.Clone(a.Data),
	}
}

// Equal reports whether both arrays have the same dtype, shape and bytes.
func (a Array) Equal(b Array) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// ToPlainArray makes Array usable wherever a Value is expected.
func (a Array) ToPlainArray() (Array, error) {
	return a.Clone(), nil
}

// String summarizes the array without its contents, e.g. "float64(5, 24, 3)".
func (a Array) String() string {
	return fmt.Sprintf("%s%s", a.DType, ShapeString(a.Shape))
}

// ShapeString formats a shape the way numpy prints it.
func ShapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	var b bytes.Buffer
	b.WriteByte('(')
	for i, d := range shape {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", d)
	}
	b.WriteByte(')')
	return b.String()
}

// FromFloat64s builds a float64 array. len(vals) must match shape.
func FromFloat64s(shape []int, vals []float64) (Array, error) {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return NewArray(Float64, shape, data)
}

// FromFloat32s builds a float32 array.
func FromFloat32s(shape []int, vals []float32) (Array, error) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return NewArray(Float32, shape, data)
}

// FromInt64s builds an int64 array.
func FromInt64s(shape []int, vals []int64) (Array, error) {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(v))
	}
	return NewArray(Int64, shape, data)
}

// FromInt32s builds an int32 array.
func FromInt32s(shape []int, vals []int32) (Array, error) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return NewArray(Int32, shape, data)
}

// FromUint8s builds a uint8 array.
func FromUint8s(shape []int, vals []uint8) (Array, error) {
	return NewArray(Uint8, shape, bytes.Clone(vals))
}

// FromBools builds a bool array.
func FromBools(shape []int, vals []bool) (Array, error) {
	data := make([]byte, len(vals))
	for i, v := range vals {
		if v {
			data[i] = 1
		}
	}
	return NewArray(Bool, shape, data)
}

// Float64s returns the elements widened to float64, in C order.
func (a Array) Float64s() []float64 {
	n := a.Len()
	out := make([]float64, n)
	size := a.DType.Size()
	if size == 0 || len(a.Data) < n*size {
		return out
	}
	for i := range out {
		b := a.Data[i*size:]
		switch a.DType {
		case Bool, Uint8:
			out[i] = float64(b[0])
		case Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case Int64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}
	return out
}
