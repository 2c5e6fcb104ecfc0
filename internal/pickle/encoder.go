// Package pickle writes and reads Python pickle streams holding nested
// dicts of numpy arrays.
//
// The encoder emits a protocol 5 stream restricted to opcodes every
// unpickler since protocol 3 understands. Arrays use numpy's
// _reconstruct/__setstate__ form so the result loads as writable
// numpy.ndarray objects under numpy 1.x and 2.x. An array written twice
// in one stream (same backing buffer) is stored once and referenced
// through the memo, so the loaded objects are identical.
package pickle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/alnah/smplexport/internal/tensor"
)

// Protocol is the protocol number written in the stream header.
const Protocol = 5

// opcodes
const (
	opProto          = 0x80
	opStop           = '.'
	opNone           = 'N'
	opNewTrue        = 0x88
	opNewFalse       = 0x89
	opBinInt         = 'J'
	opBinInt1        = 'K'
	opBinInt2        = 'M'
	opLong1          = 0x8a
	opBinFloat       = 'G'
	opShortBinUni    = 0x8c
	opBinUnicode     = 'X'
	opShortBinBytes  = 'C'
	opBinBytes       = 'B'
	opBinBytes8      = 0x8e
	opEmptyDict      = '}'
	opEmptyList      = ']'
	opEmptyTuple     = ')'
	opMark           = '('
	opSetItems       = 'u'
	opAppends        = 'e'
	opTuple          = 't'
	opTuple1         = 0x85
	opTuple2         = 0x86
	opTuple3         = 0x87
	opGlobal         = 'c'
	opReduce         = 'R'
	opBuild          = 'b'
	opBinPut         = 'q'
	opLongBinPut     = 'r'
	opBinGet         = 'h'
	opLongBinGet     = 'j'
	numpyModule      = "numpy"
	numpyMultiarray  = "numpy.core.multiarray"
	reconstructName  = "_reconstruct"
	ndarrayClass     = "ndarray"
	dtypeClass       = "dtype"
	dtypeStateVer    = 3
	ndarrayStateVer  = 1
	maxShortBinBytes = 0xFF
)

// Item is one key/value pair of a Dict.
type Item struct {
	Key   string
	Value any
}

// Dict is a string-keyed dict that keeps insertion order.
type Dict []Item

// Get returns the value stored under key.
func (d Dict) Get(key string) (any, bool) {
	for _, it := range d {
		if it.Key == key {
			return it.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (d Dict) Keys() []string {
	keys := make([]string, len(d))
	for i, it := range d {
		keys[i] = it.Key
	}
	return keys
}

// Tuple is a Python tuple.
type Tuple []any

// Encoder writes one pickled value per Encode call.
type Encoder struct {
	w    *bufio.Writer
	err  error
	memo map[arrayKey]uint32
}

// arrayKey identifies an array by its backing buffer, not its content.
type arrayKey struct {
	data  *byte
	size  int
	dtype tensor.DType
	shape string
}

func memoKey(a tensor.Array) (arrayKey, bool) {
	if len(a.Data) == 0 {
		return arrayKey{}, false
	}
	return arrayKey{
		data:  &a.Data[0],
		size:  len(a.Data),
		dtype: a.DType,
		shape: tensor.ShapeString(a.Shape),
	}, true
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Marshal pickles v into a new byte slice.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes v as a complete pickle stream. Supported values: nil,
// bool, int kinds, float64, string, []byte, Dict, map[string]any (keys
// are written in sorted order), Tuple, []any and tensor.Array.
func (e *Encoder) Encode(v any) error {
	e.memo = make(map[arrayKey]uint32)
	e.op(opProto)
	e.op(Protocol)
	if err := e.value(v); err != nil {
		return err
	}
	e.op(opStop)
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

func (e *Encoder) value(v any) error {
	switch x := v.(type) {
	case nil:
		e.op(opNone)
	case bool:
		if x {
			e.op(opNewTrue)
		} else {
			e.op(opNewFalse)
		}
	case int:
		e.putInt(int64(x))
	case int32:
		e.putInt(int64(x))
	case int64:
		e.putInt(x)
	case float64:
		e.op(opBinFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(x))
		e.write(b[:])
	case string:
		e.putString(x)
	case []byte:
		e.putBytes(x)
	case Dict:
		return e.dict(x)
	case map[string]any:
		return e.dict(sortedDict(x))
	case Tuple:
		return e.tuple(x)
	case []any:
		e.op(opEmptyList)
		if len(x) == 0 {
			return nil
		}
		e.op(opMark)
		for _, it := range x {
			if err := e.value(it); err != nil {
				return err
			}
		}
		e.op(opAppends)
	case tensor.Array:
		return e.ndarray(x)
	case *tensor.Array:
		if x == nil {
			e.op(opNone)
			return nil
		}
		return e.ndarray(*x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

func (e *Encoder) dict(d Dict) error {
	e.op(opEmptyDict)
	if len(d) == 0 {
		return nil
	}
	e.op(opMark)
	for _, it := range d {
		e.putString(it.Key)
		if err := e.value(it.Value); err != nil {
			return fmt.Errorf("key %q: %w", it.Key, err)
		}
	}
	e.op(opSetItems)
	return nil
}

func (e *Encoder) tuple(t Tuple) error {
	switch len(t) {
	case 0:
		e.op(opEmptyTuple)
		return nil
	case 1, 2, 3:
		for _, it := range t {
			if err := e.value(it); err != nil {
				return err
			}
		}
		e.op([]byte{opTuple1, opTuple2, opTuple3}[len(t)-1])
		return nil
	}
	e.op(opMark)
	for _, it := range t {
		if err := e.value(it); err != nil {
			return err
		}
	}
	e.op(opTuple)
	return nil
}

// ndarray writes numpy's protocol 2-4 reduction of an array:
//
//	_reconstruct(ndarray, (0,), b'b').__setstate__(
//	    (1, shape, dtype, False, rawdata))
func (e *Encoder) ndarray(a tensor.Array) error {
	if a.DType.Size() == 0 {
		return fmt.Errorf("%w: %v", tensor.ErrUnsupportedDType, a.DType)
	}
	if len(a.Data) != a.Len()*a.DType.Size() {
		return fmt.Errorf("%w: %s", tensor.ErrShapeMismatch, a)
	}
	key, memoize := memoKey(a)
	if memoize {
		if idx, seen := e.memo[key]; seen {
			e.memoRef(opBinGet, opLongBinGet, idx)
			return nil
		}
	}

	e.global(numpyMultiarray, reconstructName)
	e.global(numpyModule, ndarrayClass)
	if err := e.tuple(Tuple{0}); err != nil {
		return err
	}
	e.putBytes([]byte("b"))
	e.op(opTuple3)
	e.op(opReduce)

	shape := make(Tuple, len(a.Shape))
	for i, d := range a.Shape {
		shape[i] = d
	}
	e.op(opMark)
	e.putInt(ndarrayStateVer)
	if err := e.tuple(shape); err != nil {
		return err
	}
	e.dtype(a.DType)
	e.op(opNewFalse)
	e.putBytes(a.Data)
	e.op(opTuple)
	e.op(opBuild)

	if memoize {
		idx := uint32(len(e.memo))
		e.memo[key] = idx
		e.memoRef(opBinPut, opLongBinPut, idx)
	}
	return nil
}

// memoRef writes a memo put or get, using the 1-byte form when idx fits.
func (e *Encoder) memoRef(short, long byte, idx uint32) {
	if idx <= 0xFF {
		e.op(short)
		e.op(byte(idx))
		return
	}
	e.op(long)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], idx)
	e.write(b[:])
}

// dtype writes numpy.dtype(typestr, False, True) with its
// (3, byteorder, None, None, None, -1, -1, 0) state.
func (e *Encoder) dtype(d tensor.DType) {
	e.global(numpyModule, dtypeClass)
	e.putString(d.TypeStr())
	e.op(opNewFalse)
	e.op(opNewTrue)
	e.op(opTuple3)
	e.op(opReduce)

	e.op(opMark)
	e.putInt(dtypeStateVer)
	e.putString(d.ByteOrder())
	e.op(opNone)
	e.op(opNone)
	e.op(opNone)
	e.putInt(-1)
	e.putInt(-1)
	e.putInt(0)
	e.op(opTuple)
	e.op(opBuild)
}

func (e *Encoder) global(module, name string) {
	e.op(opGlobal)
	e.write([]byte(module + "\n" + name + "\n"))
}

func (e *Encoder) putInt(v int64) {
	switch {
	case v >= 0 && v <= 0xFF:
		e.op(opBinInt1)
		e.op(byte(v))
	case v >= 0 && v <= 0xFFFF:
		e.op(opBinInt2)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		e.write(b[:])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.op(opBinInt)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		e.write(b[:])
	default:
		// Two's complement little-endian, 8 bytes is always enough.
		e.op(opLong1)
		e.op(8)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		e.write(b[:])
	}
}

func (e *Encoder) putString(s string) {
	if len(s) <= 0xFF {
		e.op(opShortBinUni)
		e.op(byte(len(s)))
	} else {
		e.op(opBinUnicode)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
		e.write(b[:])
	}
	e.write([]byte(s))
}

func (e *Encoder) putBytes(p []byte) {
	switch {
	case len(p) <= maxShortBinBytes:
		e.op(opShortBinBytes)
		e.op(byte(len(p)))
	case uint64(len(p)) <= math.MaxUint32:
		e.op(opBinBytes)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(p)))
		e.write(b[:])
	default:
		e.op(opBinBytes8)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(len(p)))
		e.write(b[:])
	}
	e.write(p)
}

func (e *Encoder) op(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *Encoder) write(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}

func sortedDict(m map[string]any) Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	d := make(Dict, len(keys))
	for i, k := range keys {
		d[i] = Item{Key: k, Value: m[k]}
	}
	return d
}
