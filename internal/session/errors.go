package session

import "errors"

var (
	// ErrNoSession is returned when an operation is given an empty session ID.
	ErrNoSession = errors.New("session ID is required")

	// ErrCorrupt means the flag path exists but is not a regular file.
	ErrCorrupt = errors.New("session flag is corrupt")
)
