package provider

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
	"github.com/artpar/releasectl/internal/shell/fleet"
	"github.com/artpar/releasectl/internal/shell/objectstore"
	"github.com/artpar/releasectl/internal/shell/registry"
)

// Factory creates service clients sharing one aws.Config.
type Factory struct {
	cfg    aws.Config
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(cfg aws.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Region returns the configured region.
func (f *Factory) Region() string {
	return f.cfg.Region
}

// Registry returns the ECR artifact store.
func (f *Factory) Registry() *registry.Registry {
	return registry.New(ecr.NewFromConfig(f.cfg), f.logger)
}

// ObjectStore returns the S3 artifact store.
func (f *Factory) ObjectStore() *objectstore.Store {
	return objectstore.New(s3.NewFromConfig(f.cfg), f.logger)
}

// AutoScaling returns the fleet refresh driver.
func (f *Factory) AutoScaling() *fleet.AutoScaling {
	return fleet.NewAutoScaling(autoscaling.NewFromConfig(f.cfg), f.logger)
}

// Hosts returns the EC2 host lookup.
func (f *Factory) Hosts() *fleet.Hosts {
	return fleet.NewHosts(ec2.NewFromConfig(f.cfg), f.logger)
}

// NewStore returns the artifact store serving backend.
func (f *Factory) NewStore(backend release.Backend) (artifact.Store, error) {
	switch backend {
	case release.BackendContainer:
		return f.Registry(), nil
	case release.BackendObject:
		return f.ObjectStore(), nil
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", backend)
	}
}
