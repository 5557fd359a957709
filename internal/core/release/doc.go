// Package release provides the pure model for artifact promotion and rollback.
//
// This package contains the functional core of the release engine: the
// artifact set and reference types, alias naming conventions, the promotion
// and rollback decisions, and binding metadata encoding. All functions are
// pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: Default alias names per environment (DefaultAliases, SwapAlias)
//   - Object keys: Build and alias keys for the object backend (BuildObjectKey, AliasObjectKey)
//   - Tags: Commit tag selection and numeric tagging (SelectCommitTag, NextNumericTag)
//   - Decisions: What a promote or rollback must mutate (DecidePromotion, DecideRollback)
//   - Metadata: Structured alias binding tags (BindingMetadata.Tags, ParseBindingMetadata)
//
// # Usage
//
// The imperative shell (internal/shell/promotion) resolves aliases through an
// artifact store, asks this package what to do, and then performs the
// mutations in order:
//
//	decision := release.DecidePromotion(target, live, rollback)
//	if decision.NoOp {
//	    return alreadyPromoted
//	}
package release
