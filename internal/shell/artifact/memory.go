package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/artpar/releasectl/internal/core/release"
)

// MemoryStore is an in-process Store used by tests and dry runs.
// It also implements Annotator, CommitResolver and TagLister.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[release.ArtifactSet]*memorySet
	now  func() time.Time
	seq  int

	// Fail, when set, is consulted before every call. A non-nil return is
	// returned from the call without touching state.
	Fail func(op, name string) error

	calls []Call
}

// Call is one recorded store call.
type Call struct {
	Op   string
	Name string // alias or build id
}

type memorySet struct {
	builds   map[string]release.ArtifactRef
	aliases  map[string]release.ArtifactRef
	metadata map[string]release.BindingMetadata
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &MemoryStore{sets: make(map[release.ArtifactSet]*memorySet)}
	m.now = func() time.Time { return base.Add(time.Duration(m.seq) * time.Second) }
	return m
}

// Push stores a build. The digest is derived from content, so two builds
// with identical content share an identity.
func (m *MemoryStore) Push(set release.ArtifactSet, buildID string, content []byte) release.ArtifactRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	sum := sha256.Sum256(content)
	pushed := m.now()
	ref := release.ArtifactRef{
		Digest:   "sha256:" + hex.EncodeToString(sum[:]),
		BuildID:  buildID,
		Location: buildID,
		PushedAt: &pushed,
	}
	m.set(set).builds[buildID] = ref
	return ref
}

// Calls returns every recorded call in order.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Mutations returns the recorded BindAlias and DeleteAlias calls.
func (m *MemoryStore) Mutations() []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == "BindAlias" || c.Op == "DeleteAlias" {
			out = append(out, c)
		}
	}
	return out
}

// Metadata returns the metadata annotated on alias.
func (m *MemoryStore) Metadata(set release.ArtifactSet, alias string) release.BindingMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(set).metadata[alias]
}

// =============================================================================
// Store
// =============================================================================

// GetAlias implements Store.
func (m *MemoryStore) GetAlias(_ context.Context, set release.ArtifactSet, alias string) (*release.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetAlias", alias); err != nil {
		return nil, err
	}
	ref, ok := m.set(set).aliases[alias]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

// GetArtifact implements Store.
func (m *MemoryStore) GetArtifact(_ context.Context, set release.ArtifactSet, buildID string) (*release.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetArtifact", buildID); err != nil {
		return nil, err
	}
	ref, ok := m.set(set).builds[buildID]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

// BindAlias implements Store.
func (m *MemoryStore) BindAlias(_ context.Context, set release.ArtifactSet, alias string, ref release.ArtifactRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("BindAlias", alias); err != nil {
		return err
	}
	ref.Location = alias
	m.set(set).aliases[alias] = ref
	return nil
}

// DeleteAlias implements Store.
func (m *MemoryStore) DeleteAlias(_ context.Context, set release.ArtifactSet, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteAlias", alias); err != nil {
		return err
	}
	s := m.set(set)
	delete(s.aliases, alias)
	delete(s.metadata, alias)
	return nil
}

// LastPushed implements Store.
func (m *MemoryStore) LastPushed(_ context.Context, set release.ArtifactSet) (*release.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("LastPushed", ""); err != nil {
		return nil, err
	}
	var newest *release.ArtifactRef
	for _, ref := range m.set(set).builds {
		if newest == nil || ref.PushedAt.After(*newest.PushedAt) {
			r := ref
			newest = &r
		}
	}
	return newest, nil
}

// =============================================================================
// Optional capabilities
// =============================================================================

// AnnotateAlias implements Annotator.
func (m *MemoryStore) AnnotateAlias(_ context.Context, set release.ArtifactSet, alias string, meta release.BindingMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AnnotateAlias", alias); err != nil {
		return err
	}
	m.set(set).metadata[alias] = meta
	return nil
}

// ResolveCommitTag implements CommitResolver.
func (m *MemoryStore) ResolveCommitTag(_ context.Context, set release.ArtifactSet, alias string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ResolveCommitTag", alias); err != nil {
		return "", err
	}
	s := m.set(set)
	ref, ok := s.aliases[alias]
	if !ok {
		return "", nil
	}
	var tags []string
	for id, b := range s.builds {
		if b.Same(ref) {
			tags = append(tags, id)
		}
	}
	return release.SelectCommitTag(tags, alias), nil
}

// ListTags implements TagLister.
func (m *MemoryStore) ListTags(_ context.Context, set release.ArtifactSet) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListTags", ""); err != nil {
		return nil, err
	}
	s := m.set(set)
	tags := make([]string, 0, len(s.builds)+len(s.aliases))
	for id := range s.builds {
		tags = append(tags, id)
	}
	for alias := range s.aliases {
		tags = append(tags, alias)
	}
	sort.Strings(tags)
	return tags, nil
}

func (m *MemoryStore) record(op, name string) error {
	m.calls = append(m.calls, Call{Op: op, Name: name})
	if m.Fail != nil {
		return m.Fail(op, name)
	}
	return nil
}

func (m *MemoryStore) set(set release.ArtifactSet) *memorySet {
	s, ok := m.sets[set]
	if !ok {
		s = &memorySet{
			builds:   make(map[string]release.ArtifactRef),
			aliases:  make(map[string]release.ArtifactRef),
			metadata: make(map[string]release.BindingMetadata),
		}
		m.sets[set] = s
	}
	return s
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ Annotator      = (*MemoryStore)(nil)
	_ CommitResolver = (*MemoryStore)(nil)
	_ TagLister      = (*MemoryStore)(nil)
)
