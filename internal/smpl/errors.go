package smpl

import "errors"

// ErrValidation indicates a malformed bundle or output path.
var ErrValidation = errors.New("invalid smpl_params")

// ErrMissingKey indicates a required parameter absent from the bundle.
var ErrMissingKey = errors.New("missing required parameter")

// ErrIO indicates a directory or file operation failed.
var ErrIO = errors.New("i/o failure")

// ErrInvalidRecord indicates a pickle that is not a prediction record.
var ErrInvalidRecord = errors.New("invalid prediction record")

// ErrInconsistent indicates global and incam namespaces that differ.
var ErrInconsistent = errors.New("inconsistent prediction record")
