package pickle

import (
	"fmt"
	"io"
	"math/big"

	gopickle "github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/alnah/smplexport/internal/tensor"
)

// Load reads one pickled value from r. Dicts come back as Dict (string
// keys only), tuples as Tuple, lists as []any and numpy arrays as
// tensor.Array. Both numpy reductions are understood: the legacy
// _reconstruct form and protocol 5 _frombuffer with in-band buffers.
func Load(r io.Reader) (any, error) {
	u := gopickle.NewUnpickler(r)
	u.FindClass = findClass
	obj, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("unpickle: %w", err)
	}
	return convert(obj)
}

func findClass(module, name string) (interface{}, error) {
	switch module + "." + name {
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return reconstructFunc{}, nil
	case "numpy.core.numeric._frombuffer", "numpy._core.numeric._frombuffer":
		return frombufferFunc{}, nil
	case "numpy.ndarray":
		return ndarrayType{}, nil
	case "numpy.dtype":
		return dtypeType{}, nil
	}
	return nil, fmt.Errorf("%w: global %s.%s", ErrUnexpectedObject, module, name)
}

type ndarrayType struct{}

type reconstructFunc struct{}

// Call returns an empty array that BUILD fills in.
func (reconstructFunc) Call(args ...interface{}) (interface{}, error) {
	return &ndarrayObject{}, nil
}

type ndarrayObject struct {
	arr tensor.Array
	set bool
}

// PySetState receives (version, shape, dtype, is_fortran, rawdata).
func (o *ndarrayObject) PySetState(state interface{}) error {
	items, ok := tupleItems(state)
	if !ok || len(items) != 5 {
		return fmt.Errorf("%w: ndarray state %T", ErrUnexpectedObject, state)
	}
	if fortran, _ := items[3].(bool); fortran {
		return fmt.Errorf("%w: fortran-ordered ndarray", ErrUnexpectedObject)
	}
	raw, ok := items[4].([]byte)
	if !ok {
		return fmt.Errorf("%w: ndarray data %T", ErrUnexpectedObject, items[4])
	}
	arr, err := newArray(items[2], items[1], raw)
	if err != nil {
		return err
	}
	o.arr, o.set = arr, true
	return nil
}

type frombufferFunc struct{}

// Call receives (buffer, dtype, shape, order).
func (frombufferFunc) Call(args ...interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("%w: _frombuffer with %d args", ErrUnexpectedObject, len(args))
	}
	raw, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: _frombuffer buffer %T", ErrUnexpectedObject, args[0])
	}
	if order, _ := args[3].(string); order == "F" {
		return nil, fmt.Errorf("%w: fortran-ordered ndarray", ErrUnexpectedObject)
	}
	arr, err := newArray(args[1], args[2], raw)
	if err != nil {
		return nil, err
	}
	return &ndarrayObject{arr: arr, set: true}, nil
}

type dtypeType struct{}

// Call receives (typestr, align, copy).
func (dtypeType) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: dtype without arguments", ErrUnexpectedObject)
	}
	typestr, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %T", ErrUnexpectedObject, args[0])
	}
	return &dtypeObject{typestr: typestr, byteorder: "<"}, nil
}

type dtypeObject struct {
	typestr   string
	byteorder string
}

// PySetState receives (version, byteorder, ...).
func (d *dtypeObject) PySetState(state interface{}) error {
	items, ok := tupleItems(state)
	if !ok || len(items) < 2 {
		return fmt.Errorf("%w: dtype state %T", ErrUnexpectedObject, state)
	}
	if bo, ok := items[1].(string); ok {
		d.byteorder = bo
	}
	return nil
}

func (d *dtypeObject) dtype() (tensor.DType, error) {
	bo := d.byteorder
	if bo == "=" {
		bo = "<"
	}
	return tensor.ParseDType(bo + d.typestr)
}

func newArray(dtype, shape interface{}, raw []byte) (tensor.Array, error) {
	dt, ok := dtype.(*dtypeObject)
	if !ok {
		return tensor.Array{}, fmt.Errorf("%w: dtype %T", ErrUnexpectedObject, dtype)
	}
	d, err := dt.dtype()
	if err != nil {
		return tensor.Array{}, err
	}
	dims, ok := tupleItems(shape)
	if !ok {
		return tensor.Array{}, fmt.Errorf("%w: shape %T", ErrUnexpectedObject, shape)
	}
	s := make([]int, len(dims))
	for i, v := range dims {
		n, err := toInt(v)
		if err != nil {
			return tensor.Array{}, err
		}
		s[i] = n
	}
	return tensor.NewArray(d, s, raw)
}

var (
	_ types.Callable        = reconstructFunc{}
	_ types.Callable        = frombufferFunc{}
	_ types.Callable        = dtypeType{}
	_ types.PyStateSettable = (*ndarrayObject)(nil)
	_ types.PyStateSettable = (*dtypeObject)(nil)
)

func tupleItems(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case *types.Tuple:
		return []interface{}(*t), true
	case types.Tuple:
		return []interface{}(t), true
	case []interface{}:
		return t, true
	}
	return nil, false
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case *big.Int:
		if n.IsInt64() {
			return int(n.Int64()), nil
		}
	}
	return 0, fmt.Errorf("%w: integer %T", ErrUnexpectedObject, v)
}

func convert(v interface{}) (any, error) {
	switch x := v.(type) {
	case *types.Dict:
		out := make(Dict, 0, len(*x))
		for _, e := range *x {
			key, ok := e.Key.(string)
			if !ok {
				return nil, fmt.Errorf("%w: dict key %T", ErrUnexpectedObject, e.Key)
			}
			val, err := convert(e.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out = append(out, Item{Key: key, Value: val})
		}
		return out, nil
	case *types.Tuple:
		out := make(Tuple, len(*x))
		for i, it := range *x {
			c, err := convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case *types.List:
		out := make([]any, len(*x))
		for i, it := range *x {
			c, err := convert(it)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case *ndarrayObject:
		if !x.set {
			return nil, fmt.Errorf("%w: ndarray without state", ErrUnexpectedObject)
		}
		return x.arr, nil
	case *dtypeObject, ndarrayType, dtypeType, reconstructFunc, frombufferFunc:
		return nil, fmt.Errorf("%w: bare %T", ErrUnexpectedObject, v)
	}
	return v, nil
}
