package docker

import (
	"errors"
	"fmt"

	"github.com/artpar/releasectl/internal/core/release"
)

var (
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImagePushFailed  = errors.New("image push failed")
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrAuthFailed       = errors.New("registry authentication failed")
)

// TransferError describes a failed image transfer. It matches
// release.ErrArtifactNotFound for missing images and release.ErrBackend
// otherwise.
type TransferError struct {
	Op      string // connect, push, pull
	Ref     string // image reference, empty for connect
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("docker %s %s: %s", e.Op, e.Ref, e.Message)
	}
	return fmt.Sprintf("docker %s: %s", e.Op, e.Message)
}

func (e *TransferError) Unwrap() []error {
	if errors.Is(e.Err, ErrImageNotFound) {
		return []error{e.Err, release.ErrArtifactNotFound}
	}
	return []error{e.Err, release.ErrBackend}
}

func newTransferError(op, ref, message string, err error) *TransferError {
	return &TransferError{Op: op, Ref: ref, Message: message, Err: err}
}
