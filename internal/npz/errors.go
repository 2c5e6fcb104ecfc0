package npz

import "errors"

// ErrInvalidHeader indicates a malformed .npy header.
var ErrInvalidHeader = errors.New("invalid npy header")

// ErrTruncated indicates an .npy member shorter than its header announces.
var ErrTruncated = errors.New("truncated npy data")

// ErrFortranOrder indicates column-major data, which is not supported.
var ErrFortranOrder = errors.New("fortran-ordered arrays are not supported")

// ErrInvalidName indicates an array name that cannot be an archive member.
var ErrInvalidName = errors.New("invalid array name")

// ErrUnknownMethod indicates an unsupported compression method name.
var ErrUnknownMethod = errors.New("unknown compression method")
