package quality

import "errors"

var (
	// ErrInvalidEvidence indicates evidence failed boundary validation.
	ErrInvalidEvidence = errors.New("quality: invalid evidence")

	// ErrScorerUnavailable indicates the external scorer could not be started.
	ErrScorerUnavailable = errors.New("quality: external scorer unavailable")

	// ErrScorerTimeout indicates the external scorer exceeded its time budget.
	ErrScorerTimeout = errors.New("quality: external scorer timed out")

	// ErrScorerOutput indicates the external scorer produced no usable output.
	ErrScorerOutput = errors.New("quality: external scorer output unusable")
)
