package tier

import "errors"

var (
	// ErrFrameworkMissing means the framework root is unset or not a directory.
	// It is a configuration error and is never defaulted.
	ErrFrameworkMissing = errors.New("framework tier missing")

	// ErrBlockInvalid means a block file has unusable front matter.
	ErrBlockInvalid = errors.New("invalid instruction block")
)
