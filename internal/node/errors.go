package node

import "errors"

// ErrUnknownNode indicates an identifier with no registration.
var ErrUnknownNode = errors.New("unknown node")

// ErrInvalidInput indicates a missing or mistyped node input.
var ErrInvalidInput = errors.New("invalid node input")
