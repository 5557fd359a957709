package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	corerollout "github.com/artpar/releasectl/internal/core/rollout"
	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/fleet"
)

func newFleetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Inspect and control auto scaling group refreshes",
	}
	cmd.PersistentFlags().String("asg", "", "Auto scaling group")

	cmd.AddCommand(
		newFleetStatusCommand(a),
		newFleetRollbackRefreshCommand(a),
		newFleetInstancesCommand(a),
	)
	return cmd
}

func (a *app) fleetName() (string, error) {
	if a.cfg.Rollout.ASG == "" {
		return "", configErrorf("--asg is required")
	}
	return a.cfg.Rollout.ASG, nil
}

type refreshStatus struct {
	Fleet     string             `json:"fleet" yaml:"fleet"`
	Status    corerollout.Status `json:"status" yaml:"status"`
	Raw       string             `json:"raw,omitempty" yaml:"raw,omitempty"`
	Percent   *int32             `json:"percent,omitempty" yaml:"percent,omitempty"`
	RefreshID string             `json:"refresh_id,omitempty" yaml:"refresh_id,omitempty"`
	Reason    string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
}

func refreshStatusLines(s refreshStatus) []string {
	lines := []string{fmt.Sprintf("%s %s: %s", console.StatusGlyph(s.Status, s.Raw), s.Fleet, console.StatusText(s.Status, s.Raw))}
	if s.RefreshID == "" {
		return append(lines, "  no instance refresh found")
	}
	lines = append(lines, "  Refresh: "+s.RefreshID)
	if s.Percent != nil {
		lines = append(lines, fmt.Sprintf("  Done:    %d%%", *s.Percent))
	}
	if s.StartedAt != nil {
		lines = append(lines, "  Started: "+s.StartedAt.Local().Format(time.RFC3339))
	}
	if s.Reason != "" {
		lines = append(lines, "  Reason:  "+s.Reason)
	}
	return lines
}

func newFleetStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest instance refresh of a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := a.fleetName()
			if err != nil {
				return err
			}
			f, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			obs, err := f.AutoScaling().LatestStatus(cmd.Context(), group)
			if err != nil {
				return err
			}
			s := refreshStatus{
				Fleet:     group,
				Status:    obs.Status,
				Raw:       obs.Raw,
				Percent:   obs.Percent,
				RefreshID: obs.RefreshID,
				Reason:    obs.Reason,
				StartedAt: obs.StartedAt,
			}
			return a.emit(s, refreshStatusLines(s))
		},
	}
}

func newFleetRollbackRefreshCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-refresh",
		Short: "Roll back the in-flight instance refresh to the previous launch template",
		Long: `Roll back the in-flight instance refresh to the previous launch template.

This reverts the group's infrastructure only. Use "container rollback" or
"object rollback" to move the live artifact.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := a.fleetName()
			if err != nil {
				return err
			}
			f, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			id, err := f.AutoScaling().RollbackRefresh(cmd.Context(), group)
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"fleet": group, "refresh_id": id}, []string{
				fmt.Sprintf("↩️ Rolling back instance refresh of %s", group),
				"  Refresh: " + id,
			})
		},
	}
}

func newFleetInstancesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List running instances of a group, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := a.fleetName()
			if err != nil {
				return err
			}
			f, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			instances, err := f.Hosts().Instances(cmd.Context(), group)
			if err != nil {
				return err
			}
			return a.emit(instances, instanceLines(group, instances))
		},
	}
}

func instanceLines(group string, instances []fleet.Instance) []string {
	if len(instances) == 0 {
		return []string{fmt.Sprintf("%s no running instances in %s", console.GlyphCancelled, group)}
	}
	lines := []string{fmt.Sprintf("🖥 %s (%d running)", group, len(instances))}
	for _, inst := range instances {
		line := fmt.Sprintf("• %s  %-15s  %s  %s", inst.ID, inst.PrivateIP, inst.Type, inst.AvailabilityZone)
		if inst.LaunchedAt != nil {
			line += "  launched " + inst.LaunchedAt.Local().Format(time.RFC3339)
		}
		lines = append(lines, line)
	}
	return lines
}

// =============================================================================
// Hosts
// =============================================================================

func newHostCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Look up EC2 hosts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "private-ip NAME",
		Short: "Print the private IP of the running instance tagged Name=NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			ip, err := f.Hosts().PrivateIP(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.cfg.Output == "text" {
				// bare value for $(releasectl host private-ip ...)
				_, err = fmt.Fprintln(a.stdout, ip)
				return err
			}
			return a.emit(map[string]string{"name": args[0], "private_ip": ip}, nil)
		},
	})
	return cmd
}
