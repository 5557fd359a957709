package release

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvironmentName is a deployment environment.
type EnvironmentName string

const (
	EnvDevelopment EnvironmentName = "dev"
	EnvStaging     EnvironmentName = "stag"
	EnvTest        EnvironmentName = "test"
	EnvProduction  EnvironmentName = "prod"
)

// Environment is an environment name with an index. Index 1 renders without
// a suffix, so the first staging environment is "stag" and the second "stag2".
type Environment struct {
	Name  EnvironmentName
	Index int
}

// ParseEnvironment accepts long and short environment names.
// An empty name yields the zero Environment.
func ParseEnvironment(name string, index int) (Environment, error) {
	var env EnvironmentName
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Environment{}, nil
	case "dev", "development":
		env = EnvDevelopment
	case "stag", "staging":
		env = EnvStaging
	case "test":
		env = EnvTest
	case "prod", "production":
		env = EnvProduction
	default:
		return Environment{}, fmt.Errorf("unknown environment %q (expected dev, stag, test or prod)", name)
	}
	if index <= 0 {
		index = 1
	}
	if index > 255 {
		return Environment{}, fmt.Errorf("environment index %d out of range", index)
	}
	return Environment{Name: env, Index: index}, nil
}

// IsZero reports whether no environment is configured.
func (e Environment) IsZero() bool {
	return e.Name == ""
}

func (e Environment) String() string {
	if e.IsZero() {
		return ""
	}
	if e.Index <= 1 {
		return string(e.Name)
	}
	return string(e.Name) + strconv.Itoa(e.Index)
}

// Long returns the long environment name (e.g., "staging").
func (e Environment) Long() string {
	var long string
	switch e.Name {
	case EnvDevelopment:
		long = "development"
	case EnvStaging:
		long = "staging"
	case EnvTest:
		long = "test"
	case EnvProduction:
		long = "production"
	default:
		return ""
	}
	if e.Index <= 1 {
		return long
	}
	return long + strconv.Itoa(e.Index)
}
