package pickle

import "errors"

// ErrUnsupportedType indicates a Go value the encoder cannot represent.
var ErrUnsupportedType = errors.New("unsupported type for pickle")

// ErrUnexpectedObject indicates a decoded object of an unexpected shape.
var ErrUnexpectedObject = errors.New("unexpected pickled object")
