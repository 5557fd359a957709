package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releasectl/internal/core/release"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		rec.Close()
	})
	return rec
}

func entryAt(op Operation, repo string, at time.Time) Entry {
	e := NewEntry(op, release.ContainerSet("us-east-1", repo), "latest", OutcomeSucceeded)
	e.RecordedAt = at
	return e
}

// =============================================================================
// Record and List Tests
// =============================================================================

func TestSQLiteRecorder_RecordAndList(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	first := entryAt(OpPromote, "api", t0)
	first.From = "abc1234@000000000001"
	first.To = "def5678@000000000002"
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, entryAt(OpRollback, "api", t0.Add(time.Minute))))

	entries, err := rec.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, OpRollback, entries[0].Operation)
	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, "abc1234@000000000001", entries[1].From)
	assert.Equal(t, "def5678@000000000002", entries[1].To)
	assert.Equal(t, "container", entries[1].Backend)
	assert.Equal(t, "us-east-1", entries[1].Region)
	assert.True(t, t0.Equal(entries[1].RecordedAt))
}

func TestSQLiteRecorder_OrdersSubSecondTimes(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Record(ctx, entryAt(OpPromote, "api", t0)))
	require.NoError(t, rec.Record(ctx, entryAt(OpRollback, "api", t0.Add(100*time.Millisecond))))

	entries, err := rec.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpRollback, entries[0].Operation)
}

func TestSQLiteRecorder_ListFilters(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Record(ctx, entryAt(OpPromote, "api", t0)))
	require.NoError(t, rec.Record(ctx, entryAt(OpPromote, "web", t0.Add(time.Second))))
	rollout := entryAt(OpRollout, "web", t0.Add(2*time.Second))
	rollout.SessionID = "session-1"
	require.NoError(t, rec.Record(ctx, rollout))

	byRepo, err := rec.List(ctx, ListOptions{Repository: "web"})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	bySession, err := rec.List(ctx, ListOptions{SessionID: "session-1"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, OpRollout, bySession[0].Operation)

	limited, err := rec.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "web", limited[0].Repository)
}

func TestSQLiteRecorder_FillsIDAndTime(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, Entry{Operation: OpEscalation, Outcome: OutcomeFailed, Message: "boom"}))

	entries, err := rec.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].RecordedAt.IsZero())
	assert.Equal(t, "boom", entries[0].Message)
}

func TestSQLiteRecorder_RejectsInvalidEntry(t *testing.T) {
	rec := setupTestRecorder(t)

	err := rec.Record(context.Background(), Entry{Operation: OpPromote})

	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestSQLiteRecorder_ReopenKeepsEntries(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	rec, err := NewSQLiteRecorder(dsn)
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), entryAt(OpPromote, "api", time.Now())))
	require.NoError(t, rec.Close())

	reopened, err := NewSQLiteRecorder(dsn)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// Open Tests
// =============================================================================

func TestOpen_EmptyDSNIsNoop(t *testing.T) {
	rec, err := Open("")
	require.NoError(t, err)

	assert.IsType(t, NoopRecorder{}, rec)
	assert.NoError(t, rec.Record(context.Background(), Entry{}))
	entries, err := rec.List(context.Background(), ListOptions{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefLabel(t *testing.T) {
	assert.Equal(t, "", RefLabel(nil))
	assert.Equal(t, "abc1234@0123456789ab", RefLabel(&release.ArtifactRef{BuildID: "abc1234", Digest: "sha256:0123456789abcdef"}))
	assert.Equal(t, "sha256:ff", RefLabel(&release.ArtifactRef{Digest: "sha256:ff"}))
}
