package conversation

import "errors"

// Sentinel errors for conversation operations.
var (
	// ErrInvalidState is returned when an operation needs a turn that does not exist.
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrExtraction indicates the extractor failed or returned an unusable result.
	ErrExtraction = errors.New("extraction failed")

	// ErrIndexWrite indicates an index write failed after its retry budget.
	ErrIndexWrite = errors.New("index write failed")

	// ErrClosed is returned when work is submitted to a closed worker.
	ErrClosed = errors.New("worker closed")
)
