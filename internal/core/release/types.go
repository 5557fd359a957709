package release

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Backend
// =============================================================================

// Backend identifies the kind of artifact store an artifact set lives in.
type Backend string

const (
	BackendContainer Backend = "container"
	BackendObject    Backend = "object"
)

// =============================================================================
// Artifact Set
// =============================================================================

// ArtifactSet scopes a family of artifacts and their aliases.
// Alias resolution is always performed within exactly one set.
type ArtifactSet struct {
	Backend    Backend `json:"backend" yaml:"backend"`
	Region     string  `json:"region" yaml:"region"`
	Repository string  `json:"repository" yaml:"repository"` // ECR repository or S3 bucket
	Prefix     string  `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Name       string  `json:"name" yaml:"name"` // logical name
}

// ContainerSet returns the artifact set for an ECR repository.
// The logical name of a container set is the repository itself.
func ContainerSet(region, repository string) ArtifactSet {
	return ArtifactSet{
		Backend:    BackendContainer,
		Region:     region,
		Repository: repository,
		Name:       repository,
	}
}

// ObjectSet returns the artifact set for a logical object name in a bucket.
func ObjectSet(region, bucket, prefix, name string) ArtifactSet {
	if prefix == "" {
		prefix = DefaultObjectPrefix
	}
	return ArtifactSet{
		Backend:    BackendObject,
		Region:     region,
		Repository: bucket,
		Prefix:     strings.Trim(prefix, "/"),
		Name:       name,
	}
}

// Validate checks that the set carries everything a backend needs.
func (s ArtifactSet) Validate() error {
	switch {
	case s.Backend != BackendContainer && s.Backend != BackendObject:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidSet, s.Backend)
	case s.Region == "":
		return fmt.Errorf("%w: region is required", ErrInvalidSet)
	case s.Repository == "":
		if s.Backend == BackendObject {
			return fmt.Errorf("%w: bucket is required", ErrInvalidSet)
		}
		return fmt.Errorf("%w: repository is required", ErrInvalidSet)
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSet)
	}
	return nil
}

func (s ArtifactSet) String() string {
	if s.Backend == BackendObject {
		return fmt.Sprintf("%s/%s/%s (%s)", s.Repository, s.Prefix, s.Name, s.Region)
	}
	return fmt.Sprintf("%s (%s)", s.Repository, s.Region)
}

// =============================================================================
// Artifact Reference
// =============================================================================

// ArtifactRef is the backend-native identity of one immutable artifact.
type ArtifactRef struct {
	// Digest is the identity used for equality: a manifest digest for the
	// registry backend, an ETag for the object backend.
	Digest string `json:"digest" yaml:"digest"`

	// BuildID is the commit tag or build id when known.
	BuildID string `json:"build_id,omitempty" yaml:"build_id,omitempty"`

	// Location is the tag or key the reference was resolved from.
	Location string `json:"location" yaml:"location"`

	// Manifest and MediaType are only set by the registry backend.
	Manifest  []byte `json:"-" yaml:"-"`
	MediaType string `json:"media_type,omitempty" yaml:"media_type,omitempty"`

	RegistryID string     `json:"registry_id,omitempty" yaml:"registry_id,omitempty"`
	PushedAt   *time.Time `json:"pushed_at,omitempty" yaml:"pushed_at,omitempty"`
}

// Same reports whether both references point at the same artifact. When
// both carry a build id the build ids decide, since a server-side copy under
// SSE-KMS or a multipart copy changes an object's ETag. Otherwise the digests
// decide.
func (r ArtifactRef) Same(other ArtifactRef) bool {
	if r.BuildID != "" && other.BuildID != "" {
		return r.BuildID == other.BuildID
	}
	return r.Digest != "" && r.Digest == other.Digest
}

// Label returns a short human-readable name for the artifact.
func (r ArtifactRef) Label() string {
	if r.BuildID != "" {
		return r.BuildID
	}
	return ShortDigest(r.Digest)
}

// ShortDigest trims an algorithm prefix and shortens a digest for display.
func ShortDigest(digest string) string {
	d := digest
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[i+1:]
	}
	d = strings.Trim(d, `"`)
	if len(d) > 12 {
		d = d[:12]
	}
	return d
}

// sameRef compares two optional references.
func sameRef(a, b *ArtifactRef) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Same(*b)
}

// =============================================================================
// Aliases
// =============================================================================

// AliasNames names the live alias and its rollback companion.
type AliasNames struct {
	Live     string `json:"live" yaml:"live"`
	Rollback string `json:"rollback" yaml:"rollback"`
}

// WithDefaults fills empty names with latest/rollback.
func (a AliasNames) WithDefaults() AliasNames {
	if a.Live == "" {
		a.Live = DefaultLiveAlias
	}
	if a.Rollback == "" {
		a.Rollback = DefaultRollbackAlias
	}
	return a
}

// Contains reports whether tag is one of the alias names.
func (a AliasNames) Contains(tag string) bool {
	return tag == a.Live || tag == a.Rollback
}

// =============================================================================
// Results
// =============================================================================

// PromotionOutcome describes what a promote call did.
type PromotionOutcome string

const (
	OutcomePromoted        PromotionOutcome = "promoted"
	OutcomeAlreadyPromoted PromotionOutcome = "already_promoted"
)

// PromotionResult reports the before and after state of a promote call.
type PromotionResult struct {
	Set     ArtifactSet      `json:"set" yaml:"set"`
	Aliases AliasNames       `json:"aliases" yaml:"aliases"`
	Outcome PromotionOutcome `json:"outcome" yaml:"outcome"`
	From    *ArtifactRef     `json:"from,omitempty" yaml:"from,omitempty"`
	To      ArtifactRef      `json:"to" yaml:"to"`

	// Archived is true when the previous live artifact was copied to the
	// rollback alias. ArchiveSkipped is true when rollback already held it.
	Archived       bool `json:"archived" yaml:"archived"`
	ArchiveSkipped bool `json:"archive_skipped" yaml:"archive_skipped"`
}

// RollbackResult reports the live alias after a rollback call.
type RollbackResult struct {
	Set      ArtifactSet  `json:"set" yaml:"set"`
	Aliases  AliasNames   `json:"aliases" yaml:"aliases"`
	To       ArtifactRef  `json:"to" yaml:"to"`
	Previous *ArtifactRef `json:"previous,omitempty" yaml:"previous,omitempty"`
	Swapped  bool         `json:"swapped" yaml:"swapped"`
}

// AliasStatus is the resolved state of one alias.
type AliasStatus struct {
	Name    string       `json:"name" yaml:"name"`
	Present bool         `json:"present" yaml:"present"`
	Ref     *ArtifactRef `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// SetStatus is the read-only view of an artifact set used by list.
type SetStatus struct {
	Set        ArtifactSet  `json:"set" yaml:"set"`
	Live       AliasStatus  `json:"live" yaml:"live"`
	Rollback   AliasStatus  `json:"rollback" yaml:"rollback"`
	LastPushed *ArtifactRef `json:"last_pushed,omitempty" yaml:"last_pushed,omitempty"`
}

// NewAliasStatus builds an AliasStatus from an optional reference.
func NewAliasStatus(name string, ref *ArtifactRef) AliasStatus {
	return AliasStatus{Name: name, Present: ref != nil, Ref: ref}
}
