package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/releasectl/internal/core/release"
)

// Operation is the kind of a recorded operation.
type Operation string

const (
	OpPromote    Operation = "promote"
	OpRollback   Operation = "rollback"
	OpRollout    Operation = "rollout"
	OpEscalation Operation = "escalation"
)

// Outcome values used by the engine and coordinator.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeStarted   = "started" // rollout started without waiting
)

// Entry is one completed operation.
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
	Operation  Operation `json:"operation" yaml:"operation"`
	Backend    string    `json:"backend,omitempty" yaml:"backend,omitempty"`
	Region     string    `json:"region,omitempty" yaml:"region,omitempty"`
	Repository string    `json:"repository,omitempty" yaml:"repository,omitempty"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Alias      string    `json:"alias,omitempty" yaml:"alias,omitempty"`
	From       string    `json:"from,omitempty" yaml:"from,omitempty"`
	To         string    `json:"to,omitempty" yaml:"to,omitempty"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	SessionID  string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

// NewEntry creates an entry for an operation on set.
func NewEntry(op Operation, set release.ArtifactSet, alias, outcome string) Entry {
	return Entry{
		ID:         uuid.New().String(),
		RecordedAt: time.Now().UTC(),
		Operation:  op,
		Backend:    string(set.Backend),
		Region:     set.Region,
		Repository: set.Repository,
		Name:       set.Name,
		Alias:      alias,
		Outcome:    outcome,
	}
}

// RefLabel renders an optional reference for the From and To columns.
func RefLabel(ref *release.ArtifactRef) string {
	if ref == nil {
		return ""
	}
	if ref.BuildID != "" {
		return ref.BuildID + "@" + release.ShortDigest(ref.Digest)
	}
	return ref.Digest
}

// ListOptions filters List.
type ListOptions struct {
	Repository string
	Name       string
	SessionID  string
	Limit      int
}

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 50

// Recorder persists completed operations.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	Close() error
}

// NoopRecorder discards entries. It is used when no ledger is configured.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, Entry) error                 { return nil }
func (NoopRecorder) List(context.Context, ListOptions) ([]Entry, error) { return nil, nil }
func (NoopRecorder) Close() error                                       { return nil }

// Open returns a SQLite recorder for dsn, or a NoopRecorder when dsn is empty.
func Open(dsn string) (Recorder, error) {
	if dsn == "" {
		return NoopRecorder{}, nil
	}
	return NewSQLiteRecorder(dsn)
}
