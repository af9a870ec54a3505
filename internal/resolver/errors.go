package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptorNotFound indicates the descriptor no longer exists on disk.
	ErrDescriptorNotFound = errors.New("descriptor not found")

	// ErrSessionClosed is returned by a Session used after Close.
	ErrSessionClosed = errors.New("resolver session closed")
)

// DescriptorError reports a descriptor that could not be read or resolved.
type DescriptorError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DescriptorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}
