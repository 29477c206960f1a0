package engine

import "errors"

var (
	// ErrNotReady indicates a mutation was attempted before the initial
	// load resolved.
	ErrNotReady = errors.New("initial load has not completed")

	// ErrAlreadyLoaded indicates InitialLoad was called more than once on
	// the same instance.
	ErrAlreadyLoaded = errors.New("initial load already performed")

	// ErrAlreadyOpen indicates an engine is already active for the project.
	ErrAlreadyOpen = errors.New("workspace engine already open")
)
