package remote

import "errors"

var (
	// ErrBackendRead indicates a transport or server failure while loading
	// project state. Read failures are always surfaced to the caller,
	// never masked by local storage.
	ErrBackendRead = errors.New("failed to read project state from backend")

	// ErrBackendWrite indicates a transport or server failure while saving
	// project state. Write failures trigger exactly one local fallback
	// write and are not retried against the backend.
	ErrBackendWrite = errors.New("failed to write project state to backend")
)
