package tensor

import (
	"fmt"
	"math"
	"reflect"
)

// Coerce converts an array-like value into an Array, inferring shape and
// dtype the way numpy.array does for Python sequences:
//   - Go int kinds become int64 (int32 and uint8 are kept when uniform);
//     unsigned values above math.MaxInt64 are rejected with ErrOverflow,
//   - float32 is kept when uniform, any other float mix becomes float64,
//   - bools stay bool unless mixed with numbers.
//
// An empty sequence yields a float64 array of shape (0,).
func Coerce(v any) (Array, error) {
	switch x := v.(type) {
	case Array:
		return x.Clone(), nil
	case *Array:
		if x == nil {
			return Array{}, fmt.Errorf("%w: nil *Array", ErrNotArrayLike)
		}
		return x.Clone(), nil
	case PlainArray:
		return Coerce(x.V)
	case Value:
		return x.ToPlainArray()
	case nil:
		return Array{}, fmt.Errorf("%w: nil", ErrNotArrayLike)
	}

	c := collector{leafDepth: -1}
	if err := c.walk(reflect.ValueOf(v), 0); err != nil {
		return Array{}, err
	}
	return c.build()
}

type kind int

// Promotion order; the widest kind seen wins.
const (
	kindBool kind = iota
	kindUint8
	kindInt32
	kindInt64
	kindFloat32
	kindFloat64
)

type collector struct {
	shape     []int
	leaves    []reflect.Value
	leafDepth int
	widest    kind
	sawInt    bool
}

func (c *collector) walk(rv reflect.Value, depth int) error {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: nil element", ErrNotArrayLike)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		switch {
		case depth < len(c.shape):
			if c.shape[depth] != n {
				return fmt.Errorf("%w: length %d at depth %d, expected %d", ErrRagged, n, depth, c.shape[depth])
			}
		case c.leafDepth >= 0 && depth >= c.leafDepth:
			return fmt.Errorf("%w: sequence found where a scalar was expected", ErrRagged)
		default:
			c.shape = append(c.shape, n)
		}
		if n == 0 && c.leafDepth < 0 {
			c.leafDepth = depth + 1
		}
		for i := 0; i < n; i++ {
			if err := c.walk(rv.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	k, ok := leafKind(rv.Kind())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotArrayLike, rv.Type())
	}
	if k == kindInt64 && isUnsigned(rv.Kind()) && rv.Uint() > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrOverflow, rv.Uint())
	}
	if c.leafDepth < 0 {
		c.leafDepth = depth
	}
	if depth != c.leafDepth || depth != len(c.shape) {
		return fmt.Errorf("%w: scalar found at depth %d", ErrRagged, depth)
	}
	if len(c.leaves) == 0 || k > c.widest {
		c.widest = k
	}
	if k == kindInt32 || k == kindInt64 {
		c.sawInt = true
	}
	c.leaves = append(c.leaves, rv)
	return nil
}

func leafKind(k reflect.Kind) (kind, bool) {
	switch k {
	case reflect.Bool:
		return kindBool, true
	case reflect.Uint8:
		return kindUint8, true
	case reflect.Int32:
		return kindInt32, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return kindInt64, true
	case reflect.Float32:
		return kindFloat32, true
	case reflect.Float64:
		return kindFloat64, true
	}
	return 0, false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func (c *collector) build() (Array, error) {
	shape := c.shape
	if shape == nil {
		shape = []int{}
	}
	if len(c.leaves) == 0 {
		return NewArray(Float64, shape, []byte{})
	}

	widest := c.widest
	if widest == kindFloat32 && c.sawInt {
		widest = kindFloat64
	}

	switch widest {
	case kindBool:
		vals := make([]bool, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = rv.Bool()
		}
		return FromBools(shape, vals)
	case kindUint8:
		vals := make([]uint8, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = uint8(asInt(rv))
		}
		return FromUint8s(shape, vals)
	case kindInt32:
		vals := make([]int32, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = int32(asInt(rv))
		}
		return FromInt32s(shape, vals)
	case kindInt64:
		vals := make([]int64, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = asInt(rv)
		}
		return FromInt64s(shape, vals)
	case kindFloat32:
		vals := make([]float32, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = float32(asFloat(rv))
		}
		return FromFloat32s(shape, vals)
	default:
		vals := make([]float64, len(c.leaves))
		for i, rv := range c.leaves {
			vals[i] = asFloat(rv)
		}
		return FromFloat64s(shape, vals)
	}
}

func asInt(rv reflect.Value) int64 {
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float())
	default:
		return rv.Int()
	}
}

func asFloat(rv reflect.Value) float64 {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return float64(asInt(rv))
	}
}
