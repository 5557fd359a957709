package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/artpar/releasectl/internal/shell/console"
)

func newRootCommand(a *app) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "releasectl",
		Short:         "Promote, roll back and roll out release artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, cmd.Flags())
			if err != nil {
				return &configError{Err: err}
			}
			a.cfg = cfg
			a.logger = SetupLogger(cfg, a.stderr)
			slog.SetDefault(a.logger)
			a.console = console.New(a.stderr)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config file")
	pf.String("env", "", "Environment (dev, stag, test, prod) naming the default aliases")
	pf.Int("env-index", 1, "Environment index, 1 renders without suffix")
	pf.String("region", "", "AWS region")
	pf.String("profile", "", "AWS shared config profile")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.StringP("output", "o", "text", "Output format (text, json, yaml)")
	pf.String("history-dsn", "", "SQLite path of the release history ledger")

	root.AddCommand(
		newContainerCommand(a),
		newObjectCommand(a),
		newFleetCommand(a),
		newHostCommand(a),
		newHistoryCommand(a),
		newVersionCommand(a),
	)
	return root
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "releasectl %s (built %s)\n", Version, BuildTime)
			return err
		},
	}
}

// reportError prints the single error line of a failed command.
func (a *app) reportError(err error) {
	if a.console != nil {
		a.console.Errorf("%v", err)
		return
	}
	fmt.Fprintf(a.stderr, "error: %v\n", err)
}
