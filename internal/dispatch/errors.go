package dispatch

import "errors"

var (
	// ErrPoolStopped is returned by Submit after Stop has been called.
	ErrPoolStopped = errors.New("dispatch: pool stopped")

	// ErrJobPanicked wraps a panic recovered while executing a job.
	ErrJobPanicked = errors.New("dispatch: job panicked")
)
