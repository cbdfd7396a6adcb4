package config

import "errors"

// ErrInvalid means a config file or value is unusable. It is a configuration
// error and is reported, never defaulted around.
var ErrInvalid = errors.New("invalid configuration")
