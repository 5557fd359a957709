// Package history records completed release operations in an audit ledger.
package history

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when the schema migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid history entry")
)

// HistoryError wraps errors with additional context.
type HistoryError struct {
	Op      string // Operation that failed (e.g., "Record")
	ID      string // Entry ID if applicable
	Message string
	Err     error
}

func (e *HistoryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s entry %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *HistoryError) Unwrap() error {
	return e.Err
}

// NewHistoryError creates a new HistoryError.
func NewHistoryError(op, id, message string, err error) *HistoryError {
	return &HistoryError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
