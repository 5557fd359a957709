package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/fleet"
	"github.com/artpar/releasectl/internal/shell/promotion"
	"github.com/artpar/releasectl/internal/shell/rollout"
)

// setResolver returns the artifact set and alias names a command works on.
type setResolver func() (release.ArtifactSet, release.AliasNames, error)

// aliasFlags are the per-invocation alias name overrides.
type aliasFlags struct {
	live     string
	rollback string
}

func (f *aliasFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.live, "live-alias", "", "Live alias name (defaults from --env)")
	cmd.PersistentFlags().StringVar(&f.rollback, "rollback-alias", "", "Rollback alias name (defaults from --env)")
}

// aliases layers flag overrides over configured overrides and the
// environment defaults.
func (a *app) aliases(base AliasConfig, f aliasFlags) (release.AliasNames, error) {
	if f.live != "" {
		base.Live = f.live
	}
	if f.rollback != "" {
		base.Rollback = f.rollback
	}
	names, err := a.cfg.Aliases(base)
	if err != nil {
		return release.AliasNames{}, &configError{Err: err}
	}
	if names.Live == names.Rollback {
		return release.AliasNames{}, configErrorf("live and rollback aliases must differ (both %q)", names.Live)
	}
	return names, nil
}

func (a *app) engineFor(ctx context.Context, backend release.Backend) (*promotion.Engine, error) {
	f, err := a.factory(ctx)
	if err != nil {
		return nil, err
	}
	store, err := f.NewStore(backend)
	if err != nil {
		return nil, err
	}
	return a.engine(store), nil
}

// progressWriter receives transfer progress. Machine output keeps stderr quiet.
func (a *app) progressWriter() io.Writer {
	if a.cfg.Output != "text" {
		return io.Discard
	}
	return a.stderr
}

func newListCommand(a *app, short string, backend release.Backend, names setResolver) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(cmd.Context(), backend)
			if err != nil {
				return err
			}
			status, err := engine.List(cmd.Context(), set, n)
			if err != nil {
				return err
			}
			return a.emit(status, console.SetStatusLines(status))
		},
	}
}

// =============================================================================
// Rollout
// =============================================================================

// addRolloutFlags registers the fleet refresh flags. Their values reach the
// command through the rollout section of Config.
func addRolloutFlags(cmd *cobra.Command) {
	defaults := fleet.DefaultRefreshOptions()
	f := cmd.Flags()
	f.String("asg", "", "Auto scaling group to refresh")
	f.Bool("wait", false, "Wait for the refresh to finish, rolling back on timeout")
	f.Duration("timeout", rollout.DefaultTimeout, "Time allowed before the live artifact is rolled back")
	f.Duration("poll-interval", rollout.DefaultPollInterval, "Interval between status queries")
	f.String("strategy", defaults.Strategy, "Instance refresh strategy")
	f.Duration("instance-warmup", defaults.InstanceWarmup, "Instance warmup")
	f.Int32("min-healthy-percentage", defaults.MinHealthyPercentage, "Minimum healthy percentage during the refresh")
	f.Bool("skip-matching", defaults.SkipMatching, "Skip instances already on the desired configuration")
}

// runRollout starts a refresh of the configured fleet and, when waiting,
// supervises it with esc as the rollback target.
func (a *app) runRollout(ctx context.Context, esc *rollout.Escalation) error {
	rc := a.cfg.Rollout
	if rc.ASG == "" {
		return configErrorf("--asg is required")
	}
	f, err := a.factory(ctx)
	if err != nil {
		return err
	}

	cfg := rollout.Config{Recorder: a.history(), Logger: a.logger}
	if rc.Wait && a.cfg.Output == "text" {
		cfg.OnProgress = a.console.Progress
	}
	coord := rollout.NewCoordinator(f.AutoScaling(), cfg)

	res, err := coord.Rollout(ctx, rollout.Request{
		Fleet:        rc.ASG,
		Refresh:      rc.Refresh,
		Wait:         rc.Wait,
		Timeout:      rc.Timeout,
		PollInterval: rc.PollInterval,
		Escalation:   esc,
	})
	a.console.EndProgress()
	if res == nil {
		return err
	}

	lines := rolloutLines(res, f.Region())
	if emitErr := a.emit(res, lines); emitErr != nil && err == nil {
		err = emitErr
	}
	return err
}

func rolloutLines(res *rollout.Result, region string) []string {
	var lines []string
	if res.Rollback != nil {
		lines = append(lines, console.RollbackLines(res.Rollback)...)
	}
	if res.Summary == nil {
		return append(lines, console.RefreshStartedLines(res.Fleet, region, res.RefreshID)...)
	}
	return append(lines, console.RolloutSummary(*res.Summary)...)
}
