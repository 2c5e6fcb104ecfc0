package bundle

import "errors"

// ErrInvalidBundle indicates input that does not describe a parameter bundle.
var ErrInvalidBundle = errors.New("invalid bundle")

// ErrUnsupportedFormat indicates a bundle file with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported bundle format")
