package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/history"
)

func newHistoryCommand(a *app) *cobra.Command {
	var opts history.ListOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded promotions, rollbacks and rollouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.History.DSN == "" {
				return configErrorf("history is disabled (set --history-dsn or RELEASECTL_HISTORY_DSN)")
			}
			entries, err := a.history().List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []history.Entry{}
			}
			return a.emit(entries, historyLines(entries))
		},
	}
	cmd.Flags().StringVar(&opts.Repository, "set", "", "Only entries for this repository or bucket")
	cmd.Flags().StringVar(&opts.Name, "artifact", "", "Only entries for this object name")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Only entries of this rollout session")
	cmd.Flags().IntVar(&opts.Limit, "limit", history.DefaultListLimit, "Maximum number of entries")
	return cmd
}

func historyLines(entries []history.Entry) []string {
	if len(entries) == 0 {
		return []string{"no history recorded"}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		glyph := console.GlyphOK
		switch e.Outcome {
		case history.OutcomeFailed:
			glyph = console.GlyphFailed
		case history.OutcomeStarted:
			glyph = console.GlyphRunning
		}
		target := e.Repository
		if e.Name != "" && e.Name != e.Repository {
			target += "/" + e.Name
		}
		line := fmt.Sprintf("%s %s  %-10s %s", glyph, e.RecordedAt.Local().Format(time.DateTime), e.Operation, target)
		if e.Alias != "" {
			line += ":" + e.Alias
		}
		if e.From != "" || e.To != "" {
			line += fmt.Sprintf("  %s -> %s", orDash(e.From), orDash(e.To))
		}
		if e.Message != "" {
			line += "  (" + e.Message + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
