// Package bundle loads parameter bundles from JSON documents and .npz
// archives.
//
// JSON layout:
//
//	{
//	  "global": {
//	    "betas": [0.1, 0.2],
//	    "body_pose": {"dtype": "float32", "shape": [2, 24, 3], "data": [...],
//	                  "device": "cuda:0", "requires_grad": true}
//	  }
//	}
//
// Nested arrays become plain arrays (int64 when every number is integral,
// float64 otherwise). Objects become tensors on the named device.
package bundle

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/valyala/fastjson"

	"github.com/alnah/smplexport/internal/npz"
	"github.com/alnah/smplexport/internal/smpl"
	"github.com/alnah/smplexport/internal/tensor"
)

// Supported file extensions.
const (
	ExtJSON = ".json"
	ExtNpz  = ".npz"
)

// Load reads the bundle at path, choosing the decoder by extension.
func Load(fs afero.Fs, path string) (smpl.ParameterBundle, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtJSON:
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("read bundle: %w", err)
		}
		return ParseJSON(data)
	case ExtNpz:
		a, err := ReadArchive(fs, path)
		if err != nil {
			return nil, err
		}
		return FromArchive(a), nil
	}
	return nil, fmt.Errorf("%w: %q (want %s or %s)", ErrUnsupportedFormat, path, ExtJSON, ExtNpz)
}

// ReadArchive decodes the .npz file at path.
func ReadArchive(fs afero.Fs, path string) (npz.Archive, error) {
	f, err := fs.Open(path)
	if err != nil {
		return npz.Archive{}, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return npz.Archive{}, fmt.Errorf("stat archive: %w", err)
	}
	a, err := npz.Read(f, info.Size())
	if err != nil {
		return npz.Archive{}, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	return a, nil
}

// FromArchive places every archive member under the global namespace.
func FromArchive(a npz.Archive) smpl.ParameterBundle {
	set := make(smpl.ParameterSet, len(a.Arrays))
	for name, arr := range a.Arrays {
		set[name] = tensor.Plain(arr)
	}
	return smpl.ParameterBundle{smpl.NamespaceGlobal: set}
}

// ParseJSON decodes a JSON bundle.
func ParseJSON(data []byte) (smpl.ParameterBundle, error) {
	var p fastjson.Parser
	root, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	top, err := root.Object()
	if err != nil {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidBundle)
	}

	out := make(smpl.ParameterBundle)
	top.Visit(func(key []byte, v *fastjson.Value) {
		if err != nil {
			return
		}
		ns := string(key)
		var set smpl.ParameterSet
		if set, err = parseSet(v); err != nil {
			err = fmt.Errorf("%s: %w", ns, err)
			return
		}
		out[ns] = set
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseSet(v *fastjson.Value) (smpl.ParameterSet, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("%w: namespace must be an object", ErrInvalidBundle)
	}
	set := make(smpl.ParameterSet, obj.Len())
	obj.Visit(func(key []byte, pv *fastjson.Value) {
		if err != nil {
			return
		}
		name := string(key)
		var val tensor.Value
		if val, err = parseValue(pv); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			return
		}
		set[name] = val
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func parseValue(v *fastjson.Value) (tensor.Value, error) {
	if v.Type() == fastjson.TypeObject {
		return parseTensor(v)
	}
	plain, err := plainValue(v)
	if err != nil {
		return nil, err
	}
	return tensor.Plain(plain), nil
}

// plainValue turns numbers, bools and arrays of them into Go values that
// tensor.Coerce understands.
func plainValue(v *fastjson.Value) (any, error) {
	switch v.Type() {
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]any, len(items))
		for i, it := range items {
			x, err := plainValue(it)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
		}
		return f, nil
	case fastjson.TypeTrue:
		return true, nil
	case fastjson.TypeFalse:
		return false, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s", ErrInvalidBundle, v.Type())
}

func parseTensor(v *fastjson.Value) (tensor.Value, error) {
	dtypeName := string(v.GetStringBytes("dtype"))
	if dtypeName == "" {
		return nil, fmt.Errorf("%w: tensor without dtype", ErrInvalidBundle)
	}
	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return nil, err
	}

	shapeV := v.Get("shape")
	if shapeV == nil {
		return nil, fmt.Errorf("%w: tensor without shape", ErrInvalidBundle)
	}
	shapeVals, err := shapeV.Array()
	if err != nil {
		return nil, fmt.Errorf("%w: shape must be an array", ErrInvalidBundle)
	}
	shape := make([]int, len(shapeVals))
	for i, s := range shapeVals {
		n, err := s.Int()
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad dimension %s", ErrInvalidBundle, s)
		}
		shape[i] = n
	}

	data := v.Get("data")
	if data == nil {
		return nil, fmt.Errorf("%w: tensor without data", ErrInvalidBundle)
	}
	var leaves []*fastjson.Value
	flatten(data, &leaves)

	arr, err := encode(dtype, shape, leaves)
	if err != nil {
		return nil, err
	}

	device := string(v.GetStringBytes("device"))
	return tensor.NewTensor(arr, device, v.GetBool("requires_grad")), nil
}

func flatten(v *fastjson.Value, out *[]*fastjson.Value) {
	if v.Type() != fastjson.TypeArray {
		*out = append(*out, v)
		return
	}
	items, _ := v.Array()
	for _, it := range items {
		flatten(it, out)
	}
}

// encode converts JSON leaves to dtype. Integer dtypes reject fractional
// and out-of-range values instead of truncating.
func encode(dtype tensor.DType, shape []int, leaves []*fastjson.Value) (tensor.Array, error) {
	switch dtype {
	case tensor.Float64, tensor.Float32:
		vals := make([]float64, len(leaves))
		for i, l := range leaves {
			f, err := l.Float64()
			if err != nil {
				return tensor.Array{}, fmt.Errorf("%w: element %d: %w", ErrInvalidBundle, i, err)
			}
			vals[i] = f
		}
		if dtype == tensor.Float64 {
			return tensor.FromFloat64s(shape, vals)
		}
		f32 := make([]float32, len(vals))
		for i, f := range vals {
			f32[i] = float32(f)
		}
		return tensor.FromFloat32s(shape, f32)

	case tensor.Int64, tensor.Int32, tensor.Uint8:
		lo, hi := intRange(dtype)
		vals := make([]int64, len(leaves))
		for i, l := range leaves {
			n, err := l.Int64()
			if err != nil || n < lo || n > hi {
				return tensor.Array{}, fmt.Errorf("%w: element %d is not a valid %s", ErrInvalidBundle, i, dtype)
			}
			vals[i] = n
		}
		switch dtype {
		case tensor.Int32:
			i32 := make([]int32, len(vals))
			for i, n := range vals {
				i32[i] = int32(n)
			}
			return tensor.FromInt32s(shape, i32)
		case tensor.Uint8:
			u8 := make([]uint8, len(vals))
			for i, n := range vals {
				u8[i] = uint8(n)
			}
			return tensor.FromUint8s(shape, u8)
		}
		return tensor.FromInt64s(shape, vals)

	case tensor.Bool:
		vals := make([]bool, len(leaves))
		for i, l := range leaves {
			b, err := l.Bool()
			if err != nil {
				return tensor.Array{}, fmt.Errorf("%w: element %d: %w", ErrInvalidBundle, i, err)
			}
			vals[i] = b
		}
		return tensor.FromBools(shape, vals)
	}
	return tensor.Array{}, fmt.Errorf("%w: %s", tensor.ErrUnsupportedDType, dtype)
}

func intRange(d tensor.DType) (int64, int64) {
	switch d {
	case tensor.Int32:
		return math.MinInt32, math.MaxInt32
	case tensor.Uint8:
		return 0, math.MaxUint8
	}
	return math.MinInt64, math.MaxInt64
}
