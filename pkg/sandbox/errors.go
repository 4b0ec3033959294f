package sandbox

import "errors"

var (
	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output limit is invalid
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")

	// ErrNotAcquired is returned when the sandbox is used outside Acquire/Release
	ErrNotAcquired = errors.New("sandbox is not acquired")

	// ErrAlreadyAcquired is returned when Acquire is called twice
	ErrAlreadyAcquired = errors.New("sandbox is already acquired")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrEmptyCommand is returned for a blank command
	ErrEmptyCommand = errors.New("command is empty")
)
