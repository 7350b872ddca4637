package loop

import "errors"

var (
	// ErrNilPerformer indicates Run was called without a performer.
	ErrNilPerformer = errors.New("loop: performer is required")

	// ErrPerformerFailed wraps errors and panics raised by a performer.
	ErrPerformerFailed = errors.New("loop: performer failed")
)
