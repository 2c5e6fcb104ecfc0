package tensor

import "errors"

// ErrUnsupportedDType indicates an element type that cannot be stored.
var ErrUnsupportedDType = errors.New("unsupported dtype")

// ErrShapeMismatch indicates the data length does not match the shape.
var ErrShapeMismatch = errors.New("data does not match shape")

// ErrRagged indicates nested slices with inconsistent lengths.
var ErrRagged = errors.New("ragged nested sequence")

// ErrNotArrayLike indicates a value that cannot be coerced into an array.
var ErrNotArrayLike = errors.New("value is not array-like")

// ErrNoStorage indicates a tensor without backing storage.
var ErrNoStorage = errors.New("tensor has no storage")

// ErrScalar indicates an operation that needs at least one dimension.
var ErrScalar = errors.New("array has no dimensions")

// ErrOverflow indicates an unsigned value too large for int64 storage.
var ErrOverflow = errors.New("integer overflows int64")
