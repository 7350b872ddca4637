package review

import "errors"

var (
	// ErrUnknownSignal indicates a result was submitted for a signal the
	// inbox never saw.
	ErrUnknownSignal = errors.New("review: unknown signal")

	// ErrInvalidResult indicates a reviewer payload could not be decoded.
	ErrInvalidResult = errors.New("review: invalid result")

	// ErrBusClosed indicates the transport was used after Close.
	ErrBusClosed = errors.New("review: bus closed")
)
