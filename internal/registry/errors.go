package registry

import "errors"

var (
	// ErrStale is returned by every mutation on a MutableProjectRegistry whose
	// base snapshot has been superseded. The pass must be discarded and retried.
	ErrStale = errors.New("project registry is stale")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("project registry is closed")
)
