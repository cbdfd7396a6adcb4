package gitsync

import "errors"

var (
	// ErrNoRepo means the configured directory is not a git work tree.
	ErrNoRepo = errors.New("not a git repository")

	// ErrTimeout means git did not finish within the sync deadline.
	ErrTimeout = errors.New("git timed out")
)
