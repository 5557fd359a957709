// Package artifacttest provides contract tests for [artifact.Store]
// implementations.
package artifacttest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
)

// Harness is a store under test together with the set it serves and a way
// to push builds into it out of band.
type Harness struct {
	Store artifact.Store
	Set   release.ArtifactSet

	// Push uploads a build with content unique to buildID. Successive pushes
	// must be observed as newer by LastPushed.
	Push func(t *testing.T, buildID string)
}

// Factory creates a fresh Harness for each test invocation.
type Factory func(t *testing.T) Harness

// Run exercises the [artifact.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("GetAliasUnbound", func(t *testing.T) {
		h := factory(t)

		ref, err := h.Store.GetAlias(context.Background(), h.Set, "latest")
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("GetArtifactMissing", func(t *testing.T) {
		h := factory(t)

		ref, err := h.Store.GetArtifact(context.Background(), h.Set, "abc1234")
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("GetArtifactPushed", func(t *testing.T) {
		h := factory(t)
		h.Push(t, "abc1234")

		ref, err := h.Store.GetArtifact(context.Background(), h.Set, "abc1234")
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.NotEmpty(t, ref.Digest)
	})

	t.Run("BindAndResolve", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		build := mustArtifact(t, h, "abc1234")

		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *build))

		live, err := h.Store.GetAlias(ctx, h.Set, "latest")
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.True(t, live.Same(*build), "alias should resolve to the bound build")
	})

	t.Run("BindIdempotent", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		build := mustArtifact(t, h, "abc1234")

		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *build))
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *build))

		live, err := h.Store.GetAlias(ctx, h.Set, "latest")
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.True(t, live.Same(*build))
	})

	t.Run("RebindLeavesBuildsUntouched", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		h.Push(t, "def5678")
		first := mustArtifact(t, h, "abc1234")
		second := mustArtifact(t, h, "def5678")
		require.False(t, first.Same(*second), "distinct builds need distinct identities")

		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *first))
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *second))

		live, err := h.Store.GetAlias(ctx, h.Set, "latest")
		require.NoError(t, err)
		require.NotNil(t, live)
		assert.True(t, live.Same(*second))

		again := mustArtifact(t, h, "abc1234")
		assert.True(t, again.Same(*first), "builds are immutable")
	})

	t.Run("BindFromAliasRef", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		build := mustArtifact(t, h, "abc1234")
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *build))

		live, err := h.Store.GetAlias(ctx, h.Set, "latest")
		require.NoError(t, err)
		require.NotNil(t, live)
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "rollback", *live))

		rb, err := h.Store.GetAlias(ctx, h.Set, "rollback")
		require.NoError(t, err)
		require.NotNil(t, rb)
		assert.True(t, rb.Same(*build))
	})

	t.Run("AliasesAreIndependent", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		h.Push(t, "def5678")
		first := mustArtifact(t, h, "abc1234")
		second := mustArtifact(t, h, "def5678")

		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *first))
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "rollback", *first))
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *second))

		rb, err := h.Store.GetAlias(ctx, h.Set, "rollback")
		require.NoError(t, err)
		require.NotNil(t, rb)
		assert.True(t, rb.Same(*first))
	})

	t.Run("DeleteAlias", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		build := mustArtifact(t, h, "abc1234")
		temp := release.SwapAlias(release.AliasNames{Live: "latest", Rollback: "rollback"})
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, temp, *build))

		require.NoError(t, h.Store.DeleteAlias(ctx, h.Set, temp))

		ref, err := h.Store.GetAlias(ctx, h.Set, temp)
		require.NoError(t, err)
		assert.Nil(t, ref)
		assert.NotNil(t, mustArtifact(t, h, "abc1234"), "deleting an alias keeps the build")
	})

	t.Run("DeleteAliasUnbound", func(t *testing.T) {
		h := factory(t)

		assert.NoError(t, h.Store.DeleteAlias(context.Background(), h.Set, "never-bound"))
	})

	t.Run("LastPushedEmpty", func(t *testing.T) {
		h := factory(t)

		ref, err := h.Store.LastPushed(context.Background(), h.Set)
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("LastPushedNewestBuild", func(t *testing.T) {
		h := factory(t)
		ctx := context.Background()
		h.Push(t, "abc1234")
		h.Push(t, "def5678")
		first := mustArtifact(t, h, "abc1234")
		require.NoError(t, h.Store.BindAlias(ctx, h.Set, "latest", *first))

		ref, err := h.Store.LastPushed(ctx, h.Set)
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, "def5678", ref.BuildID)
	})
}

func mustArtifact(t *testing.T, h Harness, buildID string) *release.ArtifactRef {
	t.Helper()
	ref, err := h.Store.GetArtifact(context.Background(), h.Set, buildID)
	require.NoError(t, err)
	require.NotNil(t, ref, "build %s should exist", buildID)
	return ref
}
