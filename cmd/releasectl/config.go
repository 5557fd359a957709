package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/fleet"
	"github.com/artpar/releasectl/internal/shell/provider"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	AWS       AWSConfig       `mapstructure:"aws"`
	Env       EnvConfig       `mapstructure:"env"`
	Container ContainerConfig `mapstructure:"container"`
	Object    ObjectConfig    `mapstructure:"object"`
	Rollout   RolloutConfig   `mapstructure:"rollout"`
	History   HistoryConfig   `mapstructure:"history"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Log       LogConfig       `mapstructure:"log"`
	Output    string          `mapstructure:"output"`
}

// AWSConfig holds the region and credential selection.
type AWSConfig struct {
	Region               string `mapstructure:"region"`
	provider.Credentials `mapstructure:",squash"`
}

// EnvConfig selects the deployment environment that names default aliases.
type EnvConfig struct {
	Name  string `mapstructure:"name"`
	Index int    `mapstructure:"index"`
}

// AliasConfig overrides the environment's default alias names.
type AliasConfig struct {
	Live     string `mapstructure:"live"`
	Rollback string `mapstructure:"rollback"`
}

// ContainerConfig identifies the container artifact set.
type ContainerConfig struct {
	Repository string      `mapstructure:"repository"`
	Alias      AliasConfig `mapstructure:"alias"`
}

// ObjectConfig identifies the object artifact set.
type ObjectConfig struct {
	Bucket string      `mapstructure:"bucket"`
	Prefix string      `mapstructure:"prefix"`
	Name   string      `mapstructure:"name"`
	Alias  AliasConfig `mapstructure:"alias"`
}

// RolloutConfig holds fleet refresh configuration.
type RolloutConfig struct {
	ASG          string               `mapstructure:"asg"`
	Wait         bool                 `mapstructure:"wait"`
	Timeout      time.Duration        `mapstructure:"timeout"`
	PollInterval time.Duration        `mapstructure:"poll_interval"`
	Refresh      fleet.RefreshOptions `mapstructure:"refresh"`
}

// HistoryConfig enables the release ledger when DSN is set.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Environment parses the configured environment.
func (c *Config) Environment() (release.Environment, error) {
	return release.ParseEnvironment(c.Env.Name, c.Env.Index)
}

// Aliases resolves alias names for a backend from the environment and overrides.
func (c *Config) Aliases(overrides AliasConfig) (release.AliasNames, error) {
	env, err := c.Environment()
	if err != nil {
		return release.AliasNames{}, err
	}
	return release.ResolveAliases(env, overrides.Live, overrides.Rollback), nil
}

// ContainerSet returns the configured container artifact set.
func (c *Config) ContainerSet() release.ArtifactSet {
	return release.ContainerSet(c.AWS.Region, c.Container.Repository)
}

// ObjectSet returns the configured object artifact set.
func (c *Config) ObjectSet() release.ArtifactSet {
	return release.ObjectSet(c.AWS.Region, c.Object.Bucket, c.Object.Prefix, c.Object.Name)
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps command line flags to config keys. Flags only override the
// config when they are set explicitly.
var flagKeys = map[string]string{
	"region":                 "aws.region",
	"profile":                "aws.profile",
	"env":                    "env.name",
	"env-index":              "env.index",
	"log-level":              "log.level",
	"log-format":             "log.format",
	"output":                 "output",
	"history-dsn":            "history.dsn",
	"docker-host":            "docker.host",
	"repository":             "container.repository",
	"bucket":                 "object.bucket",
	"prefix":                 "object.prefix",
	"name":                   "object.name",
	"asg":                    "rollout.asg",
	"wait":                   "rollout.wait",
	"timeout":                "rollout.timeout",
	"poll-interval":          "rollout.poll_interval",
	"strategy":               "rollout.refresh.strategy",
	"instance-warmup":        "rollout.refresh.instance_warmup",
	"min-healthy-percentage": "rollout.refresh.min_healthy_percentage",
	"skip-matching":          "rollout.refresh.skip_matching",
}

// LoadConfig loads configuration from file, environment and flags, in
// increasing order of precedence. flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	refresh := fleet.DefaultRefreshOptions()

	// Set defaults
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("env.name", "")
	v.SetDefault("env.index", 1)
	v.SetDefault("container.repository", "")
	v.SetDefault("container.alias.live", "")
	v.SetDefault("container.alias.rollback", "")
	v.SetDefault("object.bucket", "")
	v.SetDefault("object.prefix", "")
	v.SetDefault("object.name", "")
	v.SetDefault("object.alias.live", "")
	v.SetDefault("object.alias.rollback", "")
	v.SetDefault("rollout.asg", "")
	v.SetDefault("rollout.wait", false)
	v.SetDefault("rollout.timeout", "30m")
	v.SetDefault("rollout.poll_interval", "10s")
	v.SetDefault("rollout.refresh.strategy", refresh.Strategy)
	v.SetDefault("rollout.refresh.instance_warmup", refresh.InstanceWarmup.String())
	v.SetDefault("rollout.refresh.min_healthy_percentage", refresh.MinHealthyPercentage)
	v.SetDefault("rollout.refresh.skip_matching", refresh.SkipMatching)
	v.SetDefault("history.dsn", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("output", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("RELEASECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := cfg.Environment(); err != nil {
		return nil, fmt.Errorf("invalid env: %w", err)
	}
	switch strings.ToLower(cfg.Output) {
	case "text", "json", "yaml":
		cfg.Output = strings.ToLower(cfg.Output)
	default:
		return nil, fmt.Errorf("invalid output %q (expected text, json or yaml)", cfg.Output)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format writing to w.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
