package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running scheduler
	ErrAlreadyRunning = errors.New("monitoring already running")

	// ErrNotRunning is returned when Stop is called on an idle scheduler
	ErrNotRunning = errors.New("monitoring not running")

	// ErrInvalidInterval is returned for intervals below MinInterval
	ErrInvalidInterval = errors.New("invalid monitoring interval")

	// ErrCyclePanic is returned when a cycle panicked and was skipped
	ErrCyclePanic = errors.New("monitoring cycle panicked")
)
