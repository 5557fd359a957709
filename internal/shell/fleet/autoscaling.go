// Package fleet drives EC2 Auto Scaling instance refreshes and looks up
// fleet hosts.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	smithy "github.com/aws/smithy-go"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/core/rollout"
)

const backendName = "autoscaling"

// =============================================================================
// Types
// =============================================================================

// RefreshOptions configures a new instance refresh.
type RefreshOptions struct {
	Strategy             string        `mapstructure:"strategy"`
	InstanceWarmup       time.Duration `mapstructure:"instance_warmup"`
	MinHealthyPercentage int32         `mapstructure:"min_healthy_percentage"`
	SkipMatching         bool          `mapstructure:"skip_matching"`
}

// DefaultRefreshOptions returns a rolling refresh with a two minute warmup,
// 90% minimum healthy capacity, skipping instances that already match.
func DefaultRefreshOptions() RefreshOptions {
	return RefreshOptions{
		Strategy:             "Rolling",
		InstanceWarmup:       120 * time.Second,
		MinHealthyPercentage: 90,
		SkipMatching:         true,
	}
}

// Observation is one reading of the latest refresh of a group.
type Observation struct {
	Status    rollout.Status
	Raw       string // status as reported by the API
	Percent   *int32
	RefreshID string
	Reason    string
	StartedAt *time.Time
}

// =============================================================================
// AutoScaling Driver
// =============================================================================

// AutoScalingAPI is the subset of the autoscaling client used by AutoScaling.
type AutoScalingAPI interface {
	StartInstanceRefresh(ctx context.Context, in *autoscaling.StartInstanceRefreshInput, optFns ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error)
	DescribeInstanceRefreshes(ctx context.Context, in *autoscaling.DescribeInstanceRefreshesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeInstanceRefreshesOutput, error)
	RollbackInstanceRefresh(ctx context.Context, in *autoscaling.RollbackInstanceRefreshInput, optFns ...func(*autoscaling.Options)) (*autoscaling.RollbackInstanceRefreshOutput, error)
}

// AutoScaling drives instance refreshes of Auto Scaling groups.
type AutoScaling struct {
	client AutoScalingAPI
	logger *slog.Logger
}

// NewAutoScaling creates an AutoScaling driver.
func NewAutoScaling(client AutoScalingAPI, logger *slog.Logger) *AutoScaling {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoScaling{
		client: client,
		logger: logger.With("component", "fleet"),
	}
}

// StartRefresh starts an instance refresh and returns its id.
func (a *AutoScaling) StartRefresh(ctx context.Context, group string, opts RefreshOptions) (string, error) {
	if opts.Strategy == "" {
		opts.Strategy = DefaultRefreshOptions().Strategy
	}
	out, err := a.client.StartInstanceRefresh(ctx, &autoscaling.StartInstanceRefreshInput{
		AutoScalingGroupName: aws.String(group),
		Strategy:             astypes.RefreshStrategy(opts.Strategy),
		Preferences: &astypes.RefreshPreferences{
			InstanceWarmup:       aws.Int32(int32(opts.InstanceWarmup / time.Second)),
			MinHealthyPercentage: aws.Int32(opts.MinHealthyPercentage),
			SkipMatching:         aws.Bool(opts.SkipMatching),
		},
	})
	if err != nil {
		return "", classify("StartInstanceRefresh", group, err)
	}
	id := aws.ToString(out.InstanceRefreshId)
	a.logger.Info("instance refresh started", "group", group, "refresh_id", id, "strategy", opts.Strategy)
	return id, nil
}

// LatestStatus returns the newest refresh of group. A group that has never
// been refreshed reports StatusUnknown.
func (a *AutoScaling) LatestStatus(ctx context.Context, group string) (Observation, error) {
	out, err := a.client.DescribeInstanceRefreshes(ctx, &autoscaling.DescribeInstanceRefreshesInput{
		AutoScalingGroupName: aws.String(group),
		MaxRecords:           aws.Int32(10),
	})
	if err != nil {
		return Observation{}, classify("DescribeInstanceRefreshes", group, err)
	}

	var latest *astypes.InstanceRefresh
	for i := range out.InstanceRefreshes {
		r := &out.InstanceRefreshes[i]
		if latest == nil || startTime(r).After(startTime(latest)) {
			latest = r
		}
	}
	if latest == nil {
		return Observation{Status: rollout.StatusUnknown}, nil
	}

	raw := string(latest.Status)
	return Observation{
		Status:    rollout.ParseStatus(raw),
		Raw:       raw,
		Percent:   latest.PercentageComplete,
		RefreshID: aws.ToString(latest.InstanceRefreshId),
		Reason:    aws.ToString(latest.StatusReason),
		StartedAt: latest.StartTime,
	}, nil
}

// RollbackRefresh asks Auto Scaling to roll back the in-flight refresh of
// group to the previous launch template. This reverts infrastructure, not
// artifacts.
func (a *AutoScaling) RollbackRefresh(ctx context.Context, group string) (string, error) {
	out, err := a.client.RollbackInstanceRefresh(ctx, &autoscaling.RollbackInstanceRefreshInput{
		AutoScalingGroupName: aws.String(group),
	})
	if err != nil {
		return "", classify("RollbackInstanceRefresh", group, err)
	}
	id := aws.ToString(out.InstanceRefreshId)
	a.logger.Warn("instance refresh rollback started", "group", group, "refresh_id", id)
	return id, nil
}

func startTime(r *astypes.InstanceRefresh) time.Time {
	if r.StartTime == nil {
		return time.Time{}
	}
	return *r.StartTime
}

// classify maps a missing group to ErrFleetNotFound and everything else to
// a backend error.
func classify(op, group string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found") {
		return fmt.Errorf("%w: %s: %s", release.ErrFleetNotFound, group, apiErr.ErrorMessage())
	}
	return release.NewBackendError(backendName, op, group, err)
}
