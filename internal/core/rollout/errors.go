package rollout

import "errors"

var (
	// ErrRefreshFailed is returned when the fleet refresh reports Failed.
	ErrRefreshFailed = errors.New("fleet refresh failed")

	// ErrRefreshCancelled is returned when the fleet refresh reports Cancelled.
	ErrRefreshCancelled = errors.New("fleet refresh cancelled")

	// ErrDoubleTimeout is returned when the refresh stalls again after the
	// live artifact has already been rolled back once.
	ErrDoubleTimeout = errors.New("fleet refresh timed out after rollback")

	// ErrConvergedAfterRollback is returned when the refresh succeeds after
	// escalation. The fleet converged on the rolled-back artifact, which still
	// needs operator attention.
	ErrConvergedAfterRollback = errors.New("fleet refresh converged after artifact rollback")

	// ErrEscalationFailed is returned when the escalation rollback itself fails.
	ErrEscalationFailed = errors.New("escalation rollback failed")

	// ErrSessionFinished is returned when a finished session is observed again.
	ErrSessionFinished = errors.New("rollout session already finished")
)
