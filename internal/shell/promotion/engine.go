// Package promotion moves live and rollback aliases between immutable
// artifacts. It is the imperative shell around the pure decisions in
// internal/core/release and works with any artifact.Store.
package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
	"github.com/artpar/releasectl/internal/shell/history"
)

// =============================================================================
// Engine
// =============================================================================

// Config holds optional engine collaborators.
type Config struct {
	// Recorder receives one entry per finished promote or rollback.
	// Defaults to history.NoopRecorder.
	Recorder history.Recorder

	Logger *slog.Logger
}

// Engine promotes and rolls back aliases in one artifact store.
//
// Alias mutations are strictly sequential and there is no compare-and-swap:
// two engines working on the same set concurrently can interleave.
type Engine struct {
	store    artifact.Store
	recorder history.Recorder
	logger   *slog.Logger
}

// NewEngine creates an Engine over store.
func NewEngine(store artifact.Store, cfg Config) *Engine {
	if cfg.Recorder == nil {
		cfg.Recorder = history.NoopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:    store,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With("component", "promotion"),
	}
}

// Store returns the underlying artifact store.
func (e *Engine) Store() artifact.Store {
	return e.store
}

// =============================================================================
// Promote
// =============================================================================

// PromoteRequest asks for BuildID to become live.
type PromoteRequest struct {
	Set     release.ArtifactSet
	BuildID string
	Aliases release.AliasNames

	// Binding, when set, is annotated on the live alias by stores that
	// support it. An annotation failure is logged and does not fail the
	// promotion, which has already moved the aliases.
	Binding *release.BindingMetadata

	SessionID string
}

// Promote makes req.BuildID the live artifact of req.Set.
//
// The previous live artifact is archived to the rollback alias before live
// is overwritten. A crash between the two steps leaves rollback and live
// both pointing at the previous artifact, which a repeated promote repairs.
func (e *Engine) Promote(ctx context.Context, req PromoteRequest) (*release.PromotionResult, error) {
	const op = "Promote"
	if err := req.Set.Validate(); err != nil {
		return nil, release.NewError(op, req.Set, "", "invalid artifact set", err)
	}
	if req.BuildID == "" {
		return nil, release.NewError(op, req.Set, "", "build id is required", release.ErrInvalidSet)
	}
	names := req.Aliases.WithDefaults()
	logger := e.logger.With("set", req.Set.String(), "build_id", req.BuildID, "live", names.Live)

	result, err := e.promote(ctx, op, req, names, logger)

	entry := history.NewEntry(history.OpPromote, req.Set, names.Live, history.OutcomeFailed)
	entry.SessionID = req.SessionID
	entry.To = req.BuildID
	if result != nil {
		entry.Outcome = string(result.Outcome)
		entry.From = history.RefLabel(result.From)
		entry.To = history.RefLabel(&result.To)
	}
	if err != nil {
		entry.Message = err.Error()
	}
	e.record(ctx, entry)

	return result, err
}

func (e *Engine) promote(ctx context.Context, op string, req PromoteRequest, names release.AliasNames, logger *slog.Logger) (*release.PromotionResult, error) {
	target, err := e.store.GetArtifact(ctx, req.Set, req.BuildID)
	if err != nil {
		return nil, release.NewError(op, req.Set, "", "failed to resolve build "+req.BuildID, err)
	}
	if target == nil {
		return nil, release.NewError(op, req.Set, "", "build "+req.BuildID+" has not been pushed", release.ErrArtifactNotFound)
	}

	live, err := e.store.GetAlias(ctx, req.Set, names.Live)
	if err != nil {
		return nil, release.NewError(op, req.Set, names.Live, "failed to resolve live alias", err)
	}

	var rollback *release.ArtifactRef
	if live != nil && !live.Same(*target) {
		rollback, err = e.store.GetAlias(ctx, req.Set, names.Rollback)
		if err != nil {
			return nil, release.NewError(op, req.Set, names.Rollback, "failed to resolve rollback alias", err)
		}
	}

	result := &release.PromotionResult{
		Set:     req.Set,
		Aliases: names,
		From:    live,
		To:      *target,
	}

	decision := release.DecidePromotion(*target, live, rollback)
	if decision.NoOp {
		logger.Info("build already live")
		result.Outcome = release.OutcomeAlreadyPromoted
		return result, nil
	}

	if decision.ArchiveInconsistent {
		logger.Warn("rollback alias already holds the live artifact, skipping archive",
			"rollback", names.Rollback, "digest", live.Digest)
		result.ArchiveSkipped = true
	}
	if decision.Archive {
		if err := e.store.BindAlias(ctx, req.Set, names.Rollback, *live); err != nil {
			return nil, release.NewError(op, req.Set, names.Rollback, "failed to archive live artifact", err)
		}
		logger.Info("live artifact archived", "rollback", names.Rollback, "digest", live.Digest)
		result.Archived = true
	}

	if err := e.store.BindAlias(ctx, req.Set, names.Live, *target); err != nil {
		return nil, release.NewError(op, req.Set, names.Live, "failed to bind live alias", err)
	}
	result.Outcome = release.OutcomePromoted
	result.To.Location = names.Live
	logger.Info("build promoted", "digest", target.Digest)

	if req.Binding != nil {
		meta := bindingFor(*req.Binding, release.SourcePromote, req.BuildID)
		if err := e.annotate(ctx, req.Set, names.Live, meta); err != nil {
			// The promotion is already committed; only the binding record is missing.
			logger.Warn("build promoted but live alias annotation failed", "error", err)
		}
	}
	return result, nil
}

// =============================================================================
// Rollback
// =============================================================================

// RollbackRequest asks for the rollback artifact to become live again.
type RollbackRequest struct {
	Set     release.ArtifactSet
	Aliases release.AliasNames

	// Swap exchanges live and rollback instead of leaving rollback in place.
	Swap bool

	Binding   *release.BindingMetadata
	SessionID string
}

// Rollback binds the live alias of req.Set to its rollback artifact.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) (*release.RollbackResult, error) {
	const op = "Rollback"
	if err := req.Set.Validate(); err != nil {
		return nil, release.NewError(op, req.Set, "", "invalid artifact set", err)
	}
	names := req.Aliases.WithDefaults()
	logger := e.logger.With("set", req.Set.String(), "live", names.Live, "rollback", names.Rollback)

	result, err := e.rollback(ctx, op, req, names, logger)

	entry := history.NewEntry(history.OpRollback, req.Set, names.Live, history.OutcomeFailed)
	entry.SessionID = req.SessionID
	if result != nil {
		entry.Outcome = history.OutcomeSucceeded
		entry.From = history.RefLabel(result.Previous)
		entry.To = history.RefLabel(&result.To)
		if result.Swapped {
			entry.Message = "swapped"
		}
	}
	if err != nil {
		entry.Message = err.Error()
	}
	e.record(ctx, entry)

	return result, err
}

func (e *Engine) rollback(ctx context.Context, op string, req RollbackRequest, names release.AliasNames, logger *slog.Logger) (*release.RollbackResult, error) {
	rb, err := e.store.GetAlias(ctx, req.Set, names.Rollback)
	if err != nil {
		return nil, release.NewError(op, req.Set, names.Rollback, "failed to resolve rollback alias", err)
	}
	if rb == nil {
		return nil, release.NewError(op, req.Set, names.Rollback, "nothing to roll back to", release.ErrRollbackNotFound)
	}

	live, err := e.store.GetAlias(ctx, req.Set, names.Live)
	if err != nil {
		return nil, release.NewError(op, req.Set, names.Live, "failed to resolve live alias", err)
	}

	result := &release.RollbackResult{
		Set:      req.Set,
		Aliases:  names,
		Previous: live,
		To:       *rb,
	}

	switch release.DecideRollback(live, req.Swap) {
	case release.RollbackSwap:
		if err := e.swap(ctx, op, req.Set, names, *live, *rb, logger); err != nil {
			return nil, err
		}
		result.Swapped = true
		logger.Info("live and rollback swapped", "live_digest", rb.Digest, "rollback_digest", live.Digest)
	default:
		if req.Swap {
			logger.Info("live alias absent, restoring without swap")
		}
		if err := e.store.BindAlias(ctx, req.Set, names.Live, *rb); err != nil {
			return nil, release.NewError(op, req.Set, names.Live, "failed to restore live alias", err)
		}
		logger.Info("rolled back", "digest", rb.Digest)
	}
	result.To.Location = names.Live

	if req.Binding != nil {
		meta := bindingFor(*req.Binding, release.SourceRollback, rb.BuildID)
		if err := e.annotate(ctx, req.Set, names.Live, meta); err != nil {
			logger.Warn("rolled back but live alias annotation failed", "error", err)
		}
	}
	return result, nil
}

// swap exchanges live and rollback through a temporary alias. The temporary
// alias is re-resolved after binding because object stores copy from the
// location of a reference, not its identity.
func (e *Engine) swap(ctx context.Context, op string, set release.ArtifactSet, names release.AliasNames, live, rb release.ArtifactRef, logger *slog.Logger) error {
	temp := release.SwapAlias(names)

	if err := e.store.BindAlias(ctx, set, temp, live); err != nil {
		return release.NewError(op, set, temp, "failed to stage live artifact", err)
	}
	staged, err := e.store.GetAlias(ctx, set, temp)
	if err != nil {
		return release.NewError(op, set, temp, "failed to resolve staged artifact", err)
	}
	if staged == nil {
		return release.NewError(op, set, temp, "staged artifact disappeared", release.ErrArtifactNotFound)
	}

	if err := e.store.BindAlias(ctx, set, names.Live, rb); err != nil {
		return release.NewError(op, set, names.Live, "failed to restore live alias", err)
	}
	if err := e.store.BindAlias(ctx, set, names.Rollback, *staged); err != nil {
		return release.NewError(op, set, names.Rollback, "failed to move previous live artifact to rollback", err)
	}

	if err := e.store.DeleteAlias(ctx, set, temp); err != nil {
		logger.Warn("failed to delete temporary swap alias", "alias", temp, "error", err)
	}
	return nil
}

// =============================================================================
// List
// =============================================================================

// List reports the live and rollback bindings of set and its newest build.
// It never mutates the store.
func (e *Engine) List(ctx context.Context, set release.ArtifactSet, aliases release.AliasNames) (*release.SetStatus, error) {
	const op = "List"
	if err := set.Validate(); err != nil {
		return nil, release.NewError(op, set, "", "invalid artifact set", err)
	}
	names := aliases.WithDefaults()

	live, err := e.store.GetAlias(ctx, set, names.Live)
	if err != nil {
		return nil, release.NewError(op, set, names.Live, "failed to resolve live alias", err)
	}
	rb, err := e.store.GetAlias(ctx, set, names.Rollback)
	if err != nil {
		return nil, release.NewError(op, set, names.Rollback, "failed to resolve rollback alias", err)
	}
	e.resolveBuildID(ctx, set, names.Live, live)
	e.resolveBuildID(ctx, set, names.Rollback, rb)

	status := &release.SetStatus{
		Set:      set,
		Live:     release.NewAliasStatus(names.Live, live),
		Rollback: release.NewAliasStatus(names.Rollback, rb),
	}

	last, err := e.store.LastPushed(ctx, set)
	if err != nil {
		e.logger.Warn("failed to find last pushed build", "set", set.String(), "error", err)
	} else {
		status.LastPushed = last
	}
	return status, nil
}

// resolveBuildID fills in the commit tag of an alias reference when the
// store can name it. Failures only cost display detail.
func (e *Engine) resolveBuildID(ctx context.Context, set release.ArtifactSet, alias string, ref *release.ArtifactRef) {
	if ref == nil || ref.BuildID != "" {
		return
	}
	resolver, ok := e.store.(artifact.CommitResolver)
	if !ok {
		return
	}
	tag, err := resolver.ResolveCommitTag(ctx, set, alias)
	if err != nil {
		e.logger.Debug("failed to resolve commit tag", "alias", alias, "error", err)
		return
	}
	ref.BuildID = tag
}

// CommitTag returns the commit tag alias resolves to, or an empty string when
// the store cannot tell.
func (e *Engine) CommitTag(ctx context.Context, set release.ArtifactSet, alias string) (string, error) {
	resolver, ok := e.store.(artifact.CommitResolver)
	if !ok {
		return "", nil
	}
	return resolver.ResolveCommitTag(ctx, set, alias)
}

// =============================================================================
// Helpers
// =============================================================================

// bindingFor stamps meta with source unless the caller already named one,
// as the rollout coordinator does for escalations.
func bindingFor(meta release.BindingMetadata, source, buildID string) release.BindingMetadata {
	if meta.Source != "" {
		source = meta.Source
	}
	return meta.WithSource(source, buildID)
}

func (e *Engine) annotate(ctx context.Context, set release.ArtifactSet, alias string, meta release.BindingMetadata) error {
	annotator, ok := e.store.(artifact.Annotator)
	if !ok {
		e.logger.Debug("store cannot annotate aliases, binding metadata ignored", "alias", alias)
		return nil
	}
	if err := annotator.AnnotateAlias(ctx, set, alias, meta); err != nil {
		return fmt.Errorf("annotate %s: %w", alias, err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, entry history.Entry) {
	if err := e.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn("failed to record history", "operation", entry.Operation, "error", err)
	}
}
