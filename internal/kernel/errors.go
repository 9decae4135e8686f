// internal/kernel/errors.go
package kernel

import "errors"

var (
	// ErrLoopExceeded is recorded when generated logic keeps choosing
	// self-directed actions past the configured ceiling
	ErrLoopExceeded = errors.New("diagnostic loop exceeded")

	// ErrNotAwaitingReply is returned by Resume when the session is not pending user input
	ErrNotAwaitingReply = errors.New("session is not awaiting a reply")

	// ErrSessionClosed is returned by Resume for completed or failed sessions
	ErrSessionClosed = errors.New("session is closed")

	// ErrPlantNotFound is returned by Start for unknown plants
	ErrPlantNotFound = errors.New("plant not found")

	// ErrEmptyInput is returned for a blank problem statement or reply
	ErrEmptyInput = errors.New("input is empty")
)
