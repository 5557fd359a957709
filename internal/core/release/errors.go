package release

import (
	"errors"
	"fmt"
)

// =============================================================================
// Release Errors
// =============================================================================

var (
	// ErrArtifactNotFound is returned when a build id has not been pushed to the set.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrRollbackNotFound is returned when the rollback alias is not bound.
	ErrRollbackNotFound = errors.New("rollback alias not found")

	// ErrFleetNotFound is returned when the fleet group does not exist.
	ErrFleetNotFound = errors.New("fleet group not found")

	// ErrBackend is returned when a registry, object store, or fleet API call fails.
	ErrBackend = errors.New("backend call failed")

	// ErrInvalidSet is returned when an artifact set is missing required fields.
	ErrInvalidSet = errors.New("invalid artifact set")
)

// Error wraps release errors with the set and alias they concern.
type Error struct {
	Op      string // Operation that failed (e.g., "Promote")
	Set     ArtifactSet
	Alias   string
	Message string
	Err     error
}

// Error names the set, alias and message, followed by the cause unless the
// cause is a bare sentinel the message already describes.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Set, e.Message)
	if e.Alias != "" {
		msg = fmt.Sprintf("%s %s alias %q: %s", e.Op, e.Set, e.Alias, e.Message)
	}
	if e.Err != nil && !isSentinel(e.Err) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isSentinel(err error) bool {
	switch err {
	case ErrArtifactNotFound, ErrRollbackNotFound, ErrFleetNotFound, ErrBackend, ErrInvalidSet:
		return true
	}
	return false
}

// NewError creates a new Error.
func NewError(op string, set ArtifactSet, alias, message string, err error) *Error {
	return &Error{
		Op:      op,
		Set:     set,
		Alias:   alias,
		Message: message,
		Err:     err,
	}
}

// BackendError wraps a failed backend API call. It unwraps to both
// ErrBackend and the underlying SDK error.
type BackendError struct {
	Op       string // API operation (e.g., "PutImage")
	Backend  string // "ecr", "s3", "autoscaling", "ec2", "docker"
	Resource string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend, op, resource string, err error) *BackendError {
	return &BackendError{
		Op:       op,
		Backend:  backend,
		Resource: resource,
		Err:      err,
	}
}
