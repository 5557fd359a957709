package release

// =============================================================================
// Promotion Decision
// =============================================================================

// PromotionDecision tells the engine which alias mutations a promote needs.
// Mutations must be applied in order: archive first, then bind live.
type PromotionDecision struct {
	// NoOp is true when live already resolves to the target artifact.
	NoOp bool

	// Archive is true when the current live artifact must be copied to the
	// rollback alias before live is overwritten.
	Archive bool

	// ArchiveInconsistent is true when rollback already equals the current
	// live artifact. This should not normally happen and is logged.
	ArchiveInconsistent bool

	// BindLive is true when live must be bound to the target artifact.
	BindLive bool
}

// DecidePromotion decides how to promote target given the current live and
// rollback bindings. Either binding may be nil.
func DecidePromotion(target ArtifactRef, live, rollback *ArtifactRef) PromotionDecision {
	if live != nil && live.Same(target) {
		return PromotionDecision{NoOp: true}
	}
	d := PromotionDecision{BindLive: true}
	if live == nil {
		return d
	}
	if sameRef(rollback, live) {
		d.ArchiveInconsistent = true
		return d
	}
	d.Archive = true
	return d
}

// =============================================================================
// Rollback Decision
// =============================================================================

// RollbackMode is the shape of a rollback.
type RollbackMode string

const (
	// RollbackRestore binds live to the rollback artifact and leaves
	// rollback untouched, so repeating it restores the same artifact.
	RollbackRestore RollbackMode = "restore"

	// RollbackSwap exchanges live and rollback through a temporary alias.
	RollbackSwap RollbackMode = "swap"
)

// DecideRollback returns the rollback mode. A swap degenerates to a restore
// when live is unbound.
func DecideRollback(live *ArtifactRef, swap bool) RollbackMode {
	if swap && live != nil {
		return RollbackSwap
	}
	return RollbackRestore
}
