package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/artpar/releasectl/internal/core/release"
)

// EC2API is the subset of the EC2 client used by Hosts.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Instance is a running fleet member.
type Instance struct {
	ID               string     `json:"id" yaml:"id"`
	Name             string     `json:"name,omitempty" yaml:"name,omitempty"`
	PrivateIP        string     `json:"private_ip,omitempty" yaml:"private_ip,omitempty"`
	Type             string     `json:"type,omitempty" yaml:"type,omitempty"`
	AvailabilityZone string     `json:"availability_zone,omitempty" yaml:"availability_zone,omitempty"`
	State            string     `json:"state" yaml:"state"`
	LaunchedAt       *time.Time `json:"launched_at,omitempty" yaml:"launched_at,omitempty"`
}

// Hosts looks up EC2 instances by tag.
type Hosts struct {
	client EC2API
	logger *slog.Logger
}

// NewHosts creates a Hosts lookup.
func NewHosts(client EC2API, logger *slog.Logger) *Hosts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hosts{
		client: client,
		logger: logger.With("component", "hosts"),
	}
}

// PrivateIP returns the private IP of the running instance tagged with
// Name=name. When several match, the most recently launched one wins.
func (h *Hosts) PrivateIP(ctx context.Context, name string) (string, error) {
	instances, err := h.describe(ctx, name, ec2types.Filter{
		Name: aws.String("tag:Name"), Values: []string{name},
	})
	if err != nil {
		return "", err
	}
	for _, inst := range instances {
		if inst.PrivateIP != "" {
			if len(instances) > 1 {
				h.logger.Warn("several instances share a name", "name", name, "count", len(instances), "chosen", inst.ID)
			}
			return inst.PrivateIP, nil
		}
	}
	return "", fmt.Errorf("%w: no running instance named %q", release.ErrFleetNotFound, name)
}

// Instances returns the running members of an Auto Scaling group, newest first.
func (h *Hosts) Instances(ctx context.Context, group string) ([]Instance, error) {
	return h.describe(ctx, group, ec2types.Filter{
		Name: aws.String("tag:aws:autoscaling:groupName"), Values: []string{group},
	})
}

func (h *Hosts) describe(ctx context.Context, resource string, filter ec2types.Filter) ([]Instance, error) {
	var (
		instances []Instance
		next      *string
	)
	for {
		out, err := h.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				filter,
				{Name: aws.String("instance-state-name"), Values: []string{string(ec2types.InstanceStateNameRunning)}},
			},
			NextToken: next,
		})
		if err != nil {
			return nil, release.NewBackendError("ec2", "DescribeInstances", resource, err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		next = out.NextToken
	}

	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i].LaunchedAt, instances[j].LaunchedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	return instances, nil
}

func toInstance(inst ec2types.Instance) Instance {
	out := Instance{
		ID:         aws.ToString(inst.InstanceId),
		PrivateIP:  aws.ToString(inst.PrivateIpAddress),
		Type:       string(inst.InstanceType),
		LaunchedAt: inst.LaunchTime,
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	if inst.Placement != nil {
		out.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" {
			out.Name = aws.ToString(tag.Value)
		}
	}
	return out
}
