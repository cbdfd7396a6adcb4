package hookio

import "errors"

var (
	// ErrEmptyInput is returned when stdin carried no document at all.
	ErrEmptyInput = errors.New("empty hook input")

	// ErrMalformedEvent is returned when the input is not a usable event document.
	ErrMalformedEvent = errors.New("malformed hook input")

	// ErrUnknownEvent is returned for event names outside the supported set.
	ErrUnknownEvent = errors.New("unknown hook event")
)
