package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/artpar/releasectl/internal/core/release"
	corerollout "github.com/artpar/releasectl/internal/core/rollout"
	"github.com/artpar/releasectl/internal/shell/artifact"
	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/history"
	"github.com/artpar/releasectl/internal/shell/promotion"
	"github.com/artpar/releasectl/internal/shell/provider"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitConfigError   = 2
	ExitNotFound      = 3
	ExitRolloutFailed = 4
	ExitBackendError  = 5
)

// exitCode maps an error to a process exit code.
func exitCode(err error) int {
	var cfgErr *configError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cfgErr), errors.Is(err, release.ErrInvalidSet), errors.Is(err, provider.ErrMissingRegion):
		return ExitConfigError
	case errors.Is(err, corerollout.ErrDoubleTimeout),
		errors.Is(err, corerollout.ErrConvergedAfterRollback),
		errors.Is(err, corerollout.ErrRefreshFailed),
		errors.Is(err, corerollout.ErrRefreshCancelled),
		errors.Is(err, corerollout.ErrEscalationFailed):
		return ExitRolloutFailed
	case errors.Is(err, release.ErrArtifactNotFound),
		errors.Is(err, release.ErrRollbackNotFound),
		errors.Is(err, release.ErrFleetNotFound):
		return ExitNotFound
	case errors.Is(err, release.ErrBackend):
		return ExitBackendError
	default:
		return ExitFailure
	}
}

// configError marks configuration and usage mistakes.
type configError struct {
	Err error
}

func (e *configError) Error() string { return e.Err.Error() }
func (e *configError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return &configError{Err: fmt.Errorf(format, args...)}
}

// =============================================================================
// App
// =============================================================================

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg     *Config
	logger  *slog.Logger
	console *console.Console
	stdout  io.Writer
	stderr  io.Writer

	// newFactory is replaced in tests.
	newFactory func(ctx context.Context, cfg *Config) (*provider.Factory, error)
	recorder   history.Recorder
}

func defaultFactory(ctx context.Context, cfg *Config) (*provider.Factory, error) {
	awsCfg, err := provider.LoadConfig(ctx, cfg.AWS.Region, cfg.AWS.Credentials)
	if err != nil {
		return nil, err
	}
	return provider.NewFactory(awsCfg, slog.Default()), nil
}

func (a *app) factory(ctx context.Context) (*provider.Factory, error) {
	if a.cfg.AWS.Region == "" {
		return nil, configErrorf("--region is required")
	}
	return a.newFactory(ctx, a.cfg)
}

// history opens the ledger once per process.
func (a *app) history() history.Recorder {
	if a.recorder != nil {
		return a.recorder
	}
	rec, err := history.Open(a.cfg.History.DSN)
	if err != nil {
		a.logger.Warn("history disabled", "dsn", a.cfg.History.DSN, "error", err)
		rec = history.NoopRecorder{}
	}
	a.recorder = rec
	return rec
}

func (a *app) engine(store artifact.Store) *promotion.Engine {
	return promotion.NewEngine(store, promotion.Config{Recorder: a.history(), Logger: a.logger})
}

func (a *app) close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
}

// emit writes v in the configured machine format, or lines for text output.
func (a *app) emit(v any, lines []string) error {
	switch a.cfg.Output {
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		a.console.Lines(lines)
		return nil
	}
}
