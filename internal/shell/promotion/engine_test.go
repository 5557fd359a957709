package promotion

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
	"github.com/artpar/releasectl/internal/shell/history"
)

// =============================================================================
// Test Helpers
// =============================================================================

type mockRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
	err     error
}

func (m *mockRecorder) Record(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *mockRecorder) List(context.Context, history.ListOptions) ([]history.Entry, error) {
	return m.entries, nil
}

func (m *mockRecorder) Close() error { return nil }

var (
	testSet   = release.ContainerSet("us-east-1", "api")
	testNames = release.AliasNames{Live: "latest", Rollback: "rollback"}
)

func setup(t *testing.T, builds ...string) (*Engine, *artifact.MemoryStore, *mockRecorder) {
	t.Helper()
	store := artifact.NewMemoryStore()
	for _, b := range builds {
		store.Push(testSet, b, []byte("content-"+b))
	}
	rec := &mockRecorder{}
	return NewEngine(store, Config{Recorder: rec}), store, rec
}

func promote(t *testing.T, e *Engine, build string) *release.PromotionResult {
	t.Helper()
	res, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: build})
	require.NoError(t, err)
	return res
}

func alias(t *testing.T, store *artifact.MemoryStore, name string) *release.ArtifactRef {
	t.Helper()
	ref, err := store.GetAlias(context.Background(), testSet, name)
	require.NoError(t, err)
	return ref
}

func build(t *testing.T, store *artifact.MemoryStore, id string) release.ArtifactRef {
	t.Helper()
	ref, err := store.GetArtifact(context.Background(), testSet, id)
	require.NoError(t, err)
	require.NotNil(t, ref)
	return *ref
}

func assertAlias(t *testing.T, store *artifact.MemoryStore, name, buildID string) {
	t.Helper()
	ref := alias(t, store, name)
	require.NotNil(t, ref, "alias %s should be bound", name)
	assert.True(t, ref.Same(build(t, store, buildID)), "alias %s should resolve to %s", name, buildID)
}

// =============================================================================
// Promote Tests
// =============================================================================

func TestPromote_FirstPromotion(t *testing.T) {
	e, store, _ := setup(t, "sha-111")

	res := promote(t, e, "sha-111")

	assert.Equal(t, release.OutcomePromoted, res.Outcome)
	assert.Nil(t, res.From)
	assert.False(t, res.Archived)
	assertAlias(t, store, "latest", "sha-111")
	assert.Nil(t, alias(t, store, "rollback"))
	assert.Equal(t, []artifact.Call{{Op: "BindAlias", Name: "latest"}}, store.Mutations())
}

func TestPromote_MissingBuildMutatesNothing(t *testing.T) {
	e, store, rec := setup(t)

	_, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "sha-999"})

	require.Error(t, err)
	assert.ErrorIs(t, err, release.ErrArtifactNotFound)
	var relErr *release.Error
	require.True(t, errors.As(err, &relErr))
	assert.Equal(t, "Promote", relErr.Op)
	assert.Empty(t, store.Mutations())
	require.Len(t, rec.entries, 1)
	assert.Equal(t, history.OutcomeFailed, rec.entries[0].Outcome)
}

func TestPromote_Idempotent(t *testing.T) {
	e, store, rec := setup(t, "sha-111")
	promote(t, e, "sha-111")
	before := len(store.Mutations())

	res := promote(t, e, "sha-111")

	assert.Equal(t, release.OutcomeAlreadyPromoted, res.Outcome)
	assert.Len(t, store.Mutations(), before, "second promote must not mutate")
	assert.Equal(t, string(release.OutcomeAlreadyPromoted), rec.entries[1].Outcome)
}

func TestPromote_ArchivesBeforeOverwrite(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")

	res := promote(t, e, "sha-222")

	assert.True(t, res.Archived)
	require.NotNil(t, res.From)
	assert.True(t, res.From.Same(build(t, store, "sha-111")))
	assertAlias(t, store, "latest", "sha-222")
	assertAlias(t, store, "rollback", "sha-111")
	assert.Equal(t, []artifact.Call{
		{Op: "BindAlias", Name: "latest"},
		{Op: "BindAlias", Name: "rollback"},
		{Op: "BindAlias", Name: "latest"},
	}, store.Mutations())
}

func TestPromote_ChainKeepsImmediatePredecessor(t *testing.T) {
	e, store, _ := setup(t, "b1", "b2", "b3", "b4")

	for _, b := range []string{"b1", "b2", "b3", "b4"} {
		promote(t, e, b)
	}

	assertAlias(t, store, "latest", "b4")
	assertAlias(t, store, "rollback", "b3")
}

func TestPromote_SkipsArchiveWhenRollbackHoldsLive(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	ctx := context.Background()
	b1 := build(t, store, "sha-111")
	require.NoError(t, store.BindAlias(ctx, testSet, "latest", b1))
	require.NoError(t, store.BindAlias(ctx, testSet, "rollback", b1))
	before := len(store.Mutations())

	res := promote(t, e, "sha-222")

	assert.True(t, res.ArchiveSkipped)
	assert.False(t, res.Archived)
	assert.Equal(t, []artifact.Call{{Op: "BindAlias", Name: "latest"}}, store.Mutations()[before:])
	assertAlias(t, store, "rollback", "sha-111")
}

func TestPromote_ArchiveFailureLeavesLiveUntouched(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	boom := errors.New("access denied")
	store.Fail = func(op, name string) error {
		if op == "BindAlias" && name == "rollback" {
			return boom
		}
		return nil
	}

	_, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "sha-222"})

	assert.ErrorIs(t, err, boom)
	store.Fail = nil
	assertAlias(t, store, "latest", "sha-111")
}

func TestPromote_BackendCauseInMessage(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	store.Fail = func(op, name string) error {
		if op == "GetArtifact" {
			return release.NewBackendError("ecr", "BatchGetImage", "api:sha-222", errors.New("AccessDeniedException: not authorized"))
		}
		return nil
	}

	_, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "sha-222"})

	require.Error(t, err)
	assert.ErrorIs(t, err, release.ErrBackend)
	assert.Contains(t, err.Error(), "AccessDeniedException: not authorized")
	store.Fail = nil
	assertAlias(t, store, "latest", "sha-111")
}

func TestPromote_EnvironmentAliases(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	names := release.DefaultAliases(release.Environment{Name: release.EnvStaging, Index: 1})
	ctx := context.Background()

	_, err := e.Promote(ctx, PromoteRequest{Set: testSet, BuildID: "sha-111", Aliases: names})
	require.NoError(t, err)
	_, err = e.Promote(ctx, PromoteRequest{Set: testSet, BuildID: "sha-222", Aliases: names})
	require.NoError(t, err)

	assertAlias(t, store, "stag", "sha-222")
	assertAlias(t, store, "rollback_stag", "sha-111")
	assert.Nil(t, alias(t, store, "latest"))
}

func TestPromote_AnnotatesBinding(t *testing.T) {
	e, store, _ := setup(t, "b1")
	binding := &release.BindingMetadata{ContainerRepository: "api", CommitTag: "abc1234", Environment: "staging"}

	_, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "b1", Binding: binding})
	require.NoError(t, err)

	meta := store.Metadata(testSet, "latest")
	assert.Equal(t, release.SourcePromote, meta.Source)
	assert.Equal(t, "b1", meta.SourceBuildID)
	assert.Equal(t, "abc1234", meta.CommitTag)
	assert.Empty(t, binding.Source, "request binding is not modified")
}

func TestPromote_AnnotationFailureKeepsPromotion(t *testing.T) {
	e, store, rec := setup(t, "b1", "b2")
	promote(t, e, "b1")
	store.Fail = func(op, name string) error {
		if op == "AnnotateAlias" {
			return errors.New("throttled")
		}
		return nil
	}
	binding := &release.BindingMetadata{ContainerRepository: "api", CommitTag: "abc1234"}

	res, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "b2", Binding: binding})

	require.NoError(t, err)
	assert.Equal(t, release.OutcomePromoted, res.Outcome)
	store.Fail = nil
	assertAlias(t, store, "latest", "b2")
	assertAlias(t, store, "rollback", "b1")
	require.NotEmpty(t, rec.entries)
	assert.Equal(t, string(release.OutcomePromoted), rec.entries[len(rec.entries)-1].Outcome)
}

func TestPromote_InvalidRequest(t *testing.T) {
	e, store, _ := setup(t)
	ctx := context.Background()

	_, err := e.Promote(ctx, PromoteRequest{Set: release.ContainerSet("", "api"), BuildID: "b1"})
	assert.ErrorIs(t, err, release.ErrInvalidSet)

	_, err = e.Promote(ctx, PromoteRequest{Set: testSet})
	assert.ErrorIs(t, err, release.ErrInvalidSet)
	assert.Empty(t, store.Calls())
}

func TestPromote_RecorderFailureIsNotFatal(t *testing.T) {
	e, store, rec := setup(t, "b1")
	rec.err = errors.New("disk full")

	res, err := e.Promote(context.Background(), PromoteRequest{Set: testSet, BuildID: "b1"})

	require.NoError(t, err)
	assert.Equal(t, release.OutcomePromoted, res.Outcome)
	assertAlias(t, store, "latest", "b1")
}

// =============================================================================
// Rollback Tests
// =============================================================================

func TestRollback_RestoresPreviousAndKeepsRollback(t *testing.T) {
	e, store, rec := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	promote(t, e, "sha-222")

	res, err := e.Rollback(context.Background(), RollbackRequest{Set: testSet})
	require.NoError(t, err)

	assert.False(t, res.Swapped)
	assert.True(t, res.To.Same(build(t, store, "sha-111")))
	require.NotNil(t, res.Previous)
	assert.True(t, res.Previous.Same(build(t, store, "sha-222")))
	assertAlias(t, store, "latest", "sha-111")
	assertAlias(t, store, "rollback", "sha-111")

	last := rec.entries[len(rec.entries)-1]
	assert.Equal(t, history.OpRollback, last.Operation)
	assert.Equal(t, history.OutcomeSucceeded, last.Outcome)
}

func TestRollback_RepeatedRollbackIsStable(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	promote(t, e, "sha-222")
	ctx := context.Background()

	_, err := e.Rollback(ctx, RollbackRequest{Set: testSet})
	require.NoError(t, err)
	_, err = e.Rollback(ctx, RollbackRequest{Set: testSet})
	require.NoError(t, err)

	assertAlias(t, store, "latest", "sha-111")
}

func TestRollback_MissingRollbackMutatesNothing(t *testing.T) {
	e, store, _ := setup(t, "sha-111")
	promote(t, e, "sha-111")
	before := len(store.Mutations())

	_, err := e.Rollback(context.Background(), RollbackRequest{Set: testSet})

	assert.ErrorIs(t, err, release.ErrRollbackNotFound)
	assert.Len(t, store.Mutations(), before)
	assertAlias(t, store, "latest", "sha-111")
}

func TestRollback_SwapExchangesAliases(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	promote(t, e, "sha-222")
	before := len(store.Mutations())

	res, err := e.Rollback(context.Background(), RollbackRequest{Set: testSet, Swap: true})
	require.NoError(t, err)

	assert.True(t, res.Swapped)
	assertAlias(t, store, "latest", "sha-111")
	assertAlias(t, store, "rollback", "sha-222")
	assert.Nil(t, alias(t, store, "rollback.swap.tmp"))
	assert.Equal(t, []artifact.Call{
		{Op: "BindAlias", Name: "rollback.swap.tmp"},
		{Op: "BindAlias", Name: "latest"},
		{Op: "BindAlias", Name: "rollback"},
		{Op: "DeleteAlias", Name: "rollback.swap.tmp"},
	}, store.Mutations()[before:])
}

func TestRollback_SwapTwiceReturnsToStart(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	promote(t, e, "sha-222")
	ctx := context.Background()

	_, err := e.Rollback(ctx, RollbackRequest{Set: testSet, Swap: true})
	require.NoError(t, err)
	_, err = e.Rollback(ctx, RollbackRequest{Set: testSet, Swap: true})
	require.NoError(t, err)

	assertAlias(t, store, "latest", "sha-222")
	assertAlias(t, store, "rollback", "sha-111")
}

func TestRollback_SwapWithoutLiveRestores(t *testing.T) {
	e, store, _ := setup(t, "sha-111")
	require.NoError(t, store.BindAlias(context.Background(), testSet, "rollback", build(t, store, "sha-111")))
	before := len(store.Mutations())

	res, err := e.Rollback(context.Background(), RollbackRequest{Set: testSet, Swap: true})
	require.NoError(t, err)

	assert.False(t, res.Swapped)
	assert.Nil(t, res.Previous)
	assertAlias(t, store, "latest", "sha-111")
	assert.Equal(t, []artifact.Call{{Op: "BindAlias", Name: "latest"}}, store.Mutations()[before:])
}

func TestRollback_SwapCleanupFailureIsTolerated(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	promote(t, e, "sha-111")
	promote(t, e, "sha-222")
	store.Fail = func(op, _ string) error {
		if op == "DeleteAlias" {
			return errors.New("throttled")
		}
		return nil
	}

	res, err := e.Rollback(context.Background(), RollbackRequest{Set: testSet, Swap: true})

	require.NoError(t, err)
	assert.True(t, res.Swapped)
	store.Fail = nil
	assertAlias(t, store, "latest", "sha-111")
	assertAlias(t, store, "rollback", "sha-222")
}

func TestRollback_AnnotatesWithRollbackSource(t *testing.T) {
	e, store, _ := setup(t, "b1", "b2")
	promote(t, e, "b1")
	promote(t, e, "b2")

	_, err := e.Rollback(context.Background(), RollbackRequest{
		Set:     testSet,
		Binding: &release.BindingMetadata{Environment: "production"},
	})
	require.NoError(t, err)

	meta := store.Metadata(testSet, "latest")
	assert.Equal(t, release.SourceRollback, meta.Source)
	assert.Equal(t, "b1", meta.SourceBuildID)
	assert.Equal(t, "production", meta.Environment)
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestScenario_PromoteThenRollback(t *testing.T) {
	e, store, _ := setup(t, "sha-111", "sha-222")
	ctx := context.Background()

	promote(t, e, "sha-111")
	assertAlias(t, store, "latest", "sha-111")

	promote(t, e, "sha-222")
	assertAlias(t, store, "latest", "sha-222")
	assertAlias(t, store, "rollback", "sha-111")

	_, err := e.Rollback(ctx, RollbackRequest{Set: testSet})
	require.NoError(t, err)
	assertAlias(t, store, "latest", "sha-111")
	assertAlias(t, store, "rollback", "sha-111")

	res := promote(t, e, "sha-222")
	assert.True(t, res.ArchiveSkipped)
	assertAlias(t, store, "latest", "sha-222")
	assertAlias(t, store, "rollback", "sha-111")
}

// =============================================================================
// List Tests
// =============================================================================

func TestList(t *testing.T) {
	e, store, _ := setup(t, "b1", "b2", "b3")
	promote(t, e, "b1")
	promote(t, e, "b2")
	before := len(store.Mutations())

	status, err := e.List(context.Background(), testSet, testNames)
	require.NoError(t, err)

	assert.True(t, status.Live.Present)
	assert.Equal(t, "latest", status.Live.Name)
	assert.True(t, status.Live.Ref.Same(build(t, store, "b2")))
	assert.True(t, status.Rollback.Present)
	assert.True(t, status.Rollback.Ref.Same(build(t, store, "b1")))
	require.NotNil(t, status.LastPushed)
	assert.Equal(t, "b3", status.LastPushed.BuildID)
	assert.Len(t, store.Mutations(), before)
}

func TestList_EmptySet(t *testing.T) {
	e, _, _ := setup(t)

	status, err := e.List(context.Background(), testSet, release.AliasNames{})
	require.NoError(t, err)

	assert.False(t, status.Live.Present)
	assert.False(t, status.Rollback.Present)
	assert.Equal(t, "rollback", status.Rollback.Name)
	assert.Nil(t, status.LastPushed)
}

func TestList_LastPushedFailureIsNotFatal(t *testing.T) {
	e, store, _ := setup(t, "b1")
	store.Fail = func(op, _ string) error {
		if op == "LastPushed" {
			return errors.New("throttled")
		}
		return nil
	}

	status, err := e.List(context.Background(), testSet, testNames)

	require.NoError(t, err)
	assert.Nil(t, status.LastPushed)
}

func TestList_ResolvesCommitTag(t *testing.T) {
	e, store, _ := setup(t, "abc1234")
	ref := build(t, store, "abc1234")
	ref.BuildID = ""
	require.NoError(t, store.BindAlias(context.Background(), testSet, "latest", ref))

	status, err := e.List(context.Background(), testSet, testNames)
	require.NoError(t, err)

	assert.Equal(t, "abc1234", status.Live.Ref.BuildID)
	tag, err := e.CommitTag(context.Background(), testSet, "latest")
	require.NoError(t, err)
	assert.Equal(t, "abc1234", tag)
}
