package release

import (
	"sort"
	"strings"
)

// TagPrefix namespaces binding metadata in backend tag maps.
const TagPrefix = "releasectl:"

const (
	tagContainerRepository = TagPrefix + "container_repo"
	tagContainerAlias      = TagPrefix + "container_alias"
	tagCommitTag           = TagPrefix + "container_commit_tag"
	tagEnvironment         = TagPrefix + "environment"
	tagSourceBuildID       = TagPrefix + "source_build_id"
	tagSource              = TagPrefix + "source"
)

// Binding sources.
const (
	SourcePromote  = "promote"
	SourceRollback = "rollback"
	SourceRollout  = "rollout"
)

// BindingMetadata records what an alias is bound to, for operators
// inspecting "what is live". Extra carries keys this version does not know.
type BindingMetadata struct {
	ContainerRepository string            `json:"container_repository,omitempty" yaml:"container_repository,omitempty"`
	ContainerAlias      string            `json:"container_alias,omitempty" yaml:"container_alias,omitempty"`
	CommitTag           string            `json:"commit_tag,omitempty" yaml:"commit_tag,omitempty"`
	Environment         string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	SourceBuildID       string            `json:"source_build_id,omitempty" yaml:"source_build_id,omitempty"`
	Source              string            `json:"source,omitempty" yaml:"source,omitempty"`
	Extra               map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// IsZero reports whether no field is set.
func (m BindingMetadata) IsZero() bool {
	return m.ContainerRepository == "" && m.ContainerAlias == "" && m.CommitTag == "" &&
		m.Environment == "" && m.SourceBuildID == "" && m.Source == "" && len(m.Extra) == 0
}

// WithSource returns a copy with Source and SourceBuildID set.
func (m BindingMetadata) WithSource(source, buildID string) BindingMetadata {
	m.Source = source
	if buildID != "" {
		m.SourceBuildID = buildID
	}
	if m.Extra != nil {
		extra := make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		m.Extra = extra
	}
	return m
}

// Tags encodes the metadata as backend tags. Empty fields are omitted and
// Extra keys are prefixed with TagPrefix unless they already carry it.
func (m BindingMetadata) Tags() map[string]string {
	tags := make(map[string]string)
	put := func(k, v string) {
		if v != "" {
			tags[k] = v
		}
	}
	put(tagContainerRepository, m.ContainerRepository)
	put(tagContainerAlias, m.ContainerAlias)
	put(tagCommitTag, m.CommitTag)
	put(tagEnvironment, m.Environment)
	put(tagSourceBuildID, m.SourceBuildID)
	put(tagSource, m.Source)
	for k, v := range m.Extra {
		if !strings.HasPrefix(k, TagPrefix) {
			k = TagPrefix + k
		}
		if _, taken := tags[k]; !taken {
			put(k, v)
		}
	}
	return tags
}

// SortedTagKeys returns the tag keys in stable order.
func SortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseBindingMetadata decodes backend tags. Tags outside TagPrefix are ignored.
func ParseBindingMetadata(tags map[string]string) BindingMetadata {
	var m BindingMetadata
	for k, v := range tags {
		switch k {
		case tagContainerRepository:
			m.ContainerRepository = v
		case tagContainerAlias:
			m.ContainerAlias = v
		case tagCommitTag:
			m.CommitTag = v
		case tagEnvironment:
			m.Environment = v
		case tagSourceBuildID:
			m.SourceBuildID = v
		case tagSource:
			m.Source = v
		default:
			name, ok := strings.CutPrefix(k, TagPrefix)
			if !ok {
				continue
			}
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[name] = v
		}
	}
	return m
}
