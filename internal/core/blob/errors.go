package blob

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAvailable is returned by EnsureExists when a container is deleted
	// or being deleted.
	ErrNotAvailable = errors.New("container not available")

	// ErrNotFound is returned by FetchMetadata when the object disappeared.
	ErrNotFound = errors.New("object not found")
)

// StoreError records a failed store operation with the container and key it
// was performed on.
type StoreError struct {
	// Op is the operation that failed (e.g. "ensure", "list", "stat").
	Op        string
	Container string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	switch {
	case e.Container != "" && e.Key != "":
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Container, e.Key, e.Err)
	case e.Container != "":
		return fmt.Sprintf("%s container %s: %v", e.Op, e.Container, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewContainerError wraps err with container context.
func NewContainerError(op, container string, err error) *StoreError {
	return &StoreError{Op: op, Container: container, Err: err}
}

// NewObjectError wraps err with container and key context.
func NewObjectError(op string, ref ObjectRef, err error) *StoreError {
	return &StoreError{Op: op, Container: ref.Container.Name, Key: ref.Key, Err: err}
}
