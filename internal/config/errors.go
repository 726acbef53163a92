package config

import "errors"

// ErrInvalidConfig indicates the configuration failed validation or could
// not be parsed.
var ErrInvalidConfig = errors.New("invalid configuration")
