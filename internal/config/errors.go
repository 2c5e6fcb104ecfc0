package config

import "errors"

// ErrInvalidSyntax indicates a config file line that is not key=value.
var ErrInvalidSyntax = errors.New("invalid config syntax")

// ErrUnknownKey indicates an unsupported configuration key.
var ErrUnknownKey = errors.New("unknown config key")

// ErrInvalidValue indicates a value rejected for its key.
var ErrInvalidValue = errors.New("invalid config value")
