// Package provider builds AWS sessions and the artifact, fleet and host
// clients that run on them.
// This is part of the Imperative Shell - handles I/O with cloud APIs.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// ErrMissingRegion is returned when no region is configured.
var ErrMissingRegion = errors.New("aws region is required")

// Credentials selects how AWS credentials are resolved. With no field set the
// default chain (environment, shared config, instance role) is used.
type Credentials struct {
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// IsStatic reports whether explicit keys are configured.
func (c Credentials) IsStatic() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// LoadConfig resolves an aws.Config for region.
func LoadConfig(ctx context.Context, region string, creds Credentials) (aws.Config, error) {
	if region == "" {
		return aws.Config{}, ErrMissingRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if creds.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(creds.Profile))
	}
	if creds.IsStatic() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config for %s: %w", region, err)
	}
	return cfg, nil
}
