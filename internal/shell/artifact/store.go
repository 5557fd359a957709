// Package artifact defines the alias store contract shared by the container
// registry and object store backends.
package artifact

import (
	"context"

	"github.com/artpar/releasectl/internal/core/release"
)

// Store resolves and binds aliases within one artifact set.
//
// Lookups return a nil reference, not an error, when the alias or build is
// absent. Errors are reserved for I/O and authorization failures. Artifacts
// themselves are never mutated or deleted through a Store.
type Store interface {
	// GetAlias resolves alias within set.
	GetAlias(ctx context.Context, set release.ArtifactSet, alias string) (*release.ArtifactRef, error)

	// GetArtifact resolves an immutable build within set.
	GetArtifact(ctx context.Context, set release.ArtifactSet, buildID string) (*release.ArtifactRef, error)

	// BindAlias points alias at ref without re-uploading artifact bytes.
	// Binding an alias to the artifact it already resolves to succeeds.
	BindAlias(ctx context.Context, set release.ArtifactSet, alias string, ref release.ArtifactRef) error

	// DeleteAlias removes alias. Removing an unbound alias succeeds.
	DeleteAlias(ctx context.Context, set release.ArtifactSet, alias string) error

	// LastPushed returns the newest build in set, or nil when none is known.
	LastPushed(ctx context.Context, set release.ArtifactSet) (*release.ArtifactRef, error)
}

// Annotator is implemented by stores that can attach binding metadata to an alias.
type Annotator interface {
	AnnotateAlias(ctx context.Context, set release.ArtifactSet, alias string, meta release.BindingMetadata) error
}

// CommitResolver is implemented by stores that can name the commit tag an
// alias currently resolves to.
type CommitResolver interface {
	ResolveCommitTag(ctx context.Context, set release.ArtifactSet, alias string) (string, error)
}

// TagLister is implemented by stores that can list every tag in a set.
type TagLister interface {
	ListTags(ctx context.Context, set release.ArtifactSet) ([]string, error)
}
