package release

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultLiveAlias     = "latest"
	DefaultRollbackAlias = "rollback"
	DefaultObjectPrefix  = "objects"

	swapSuffix = ".swap.tmp"
)

// =============================================================================
// Alias Naming
// =============================================================================

// DefaultAliases returns the alias names for an environment.
// Without an environment the names are latest/rollback; with one they are
// "<env>" and "rollback_<env>".
func DefaultAliases(env Environment) AliasNames {
	if env.IsZero() {
		return AliasNames{Live: DefaultLiveAlias, Rollback: DefaultRollbackAlias}
	}
	name := env.String()
	return AliasNames{Live: name, Rollback: "rollback_" + name}
}

// ResolveAliases applies explicit overrides on top of the environment defaults.
func ResolveAliases(env Environment, live, rollback string) AliasNames {
	names := DefaultAliases(env)
	if live != "" {
		names.Live = live
	}
	if rollback != "" {
		names.Rollback = rollback
	}
	return names
}

// SwapAlias returns the temporary alias used while swapping live and rollback.
func SwapAlias(names AliasNames) string {
	return names.Rollback + swapSuffix
}

// =============================================================================
// Object Keys
// =============================================================================

// BuildObjectKey returns the immutable key of a build object.
func BuildObjectKey(set ArtifactSet, buildID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", set.Prefix, set.Name, buildID, set.Name)
}

// AliasObjectKey returns the permalink key of an alias object.
func AliasObjectKey(set ArtifactSet, alias string) string {
	return fmt.Sprintf("%s/%s/%s.%s", set.Prefix, set.Name, set.Name, alias)
}

// ObjectSetPrefix returns the key prefix all objects of a set share.
func ObjectSetPrefix(set ArtifactSet) string {
	return fmt.Sprintf("%s/%s/", set.Prefix, set.Name)
}

// ParseBuildObjectKey extracts the build id from a build object key.
// It returns false for alias keys and keys outside the set.
func ParseBuildObjectKey(set ArtifactSet, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, ObjectSetPrefix(set))
	if !ok {
		return "", false
	}
	buildID, file, ok := strings.Cut(rest, "/")
	if !ok || buildID == "" || file != set.Name {
		return "", false
	}
	return buildID, true
}

// =============================================================================
// Tags
// =============================================================================

// IsCommitTag reports whether tag looks like a commit SHA (7 to 40 hex characters).
func IsCommitTag(tag string) bool {
	if len(tag) < 7 || len(tag) > 40 {
		return false
	}
	for _, c := range tag {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// SelectCommitTag picks the commit tag among all tags bound to one image.
// Alias names are ignored and the longest candidate wins.
func SelectCommitTag(tags []string, aliases ...string) string {
	var candidates []string
	for _, t := range tags {
		if t == DefaultLiveAlias || t == DefaultRollbackAlias || contains(aliases, t) {
			continue
		}
		if IsCommitTag(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	return candidates[0]
}

// NextNumericTag returns one more than the highest purely numeric tag, at least 1.
func NextNumericTag(tags []string) uint64 {
	var maxSeen uint64
	for _, t := range tags {
		if t == "" || strings.TrimLeft(t, "0123456789") != "" {
			continue
		}
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			continue
		}
		if n > maxSeen {
			maxSeen = n
		}
	}
	if maxSeen == ^uint64(0) {
		return maxSeen
	}
	return maxSeen + 1
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
