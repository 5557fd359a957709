package provider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/objectstore"
	"github.com/artpar/releasectl/internal/shell/registry"
)

// isolate points the SDK at empty shared config files.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
}

// =============================================================================
// LoadConfig Tests
// =============================================================================

func TestLoadConfig_StaticCredentials(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig(context.Background(), "eu-west-1", Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

func TestLoadConfig_MissingRegion(t *testing.T) {
	_, err := LoadConfig(context.Background(), "", Credentials{})
	assert.ErrorIs(t, err, ErrMissingRegion)
}

func TestLoadConfig_UnknownProfile(t *testing.T) {
	isolate(t)

	_, err := LoadConfig(context.Background(), "us-east-1", Credentials{Profile: "does-not-exist"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "us-east-1")
}

func TestCredentials_IsStatic(t *testing.T) {
	assert.False(t, Credentials{}.IsStatic())
	assert.False(t, Credentials{AccessKeyID: "a"}.IsStatic())
	assert.True(t, Credentials{AccessKeyID: "a", SecretAccessKey: "b"}.IsStatic())
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestFactory_NewStore(t *testing.T) {
	f := NewFactory(aws.Config{Region: "us-east-1"}, nil)

	store, err := f.NewStore(release.BackendContainer)
	require.NoError(t, err)
	assert.IsType(t, &registry.Registry{}, store)

	store, err = f.NewStore(release.BackendObject)
	require.NoError(t, err)
	assert.IsType(t, &objectstore.Store{}, store)

	_, err = f.NewStore("ftp")
	assert.Error(t, err)
	assert.Equal(t, "us-east-1", f.Region())
}

func TestFactory_FleetClients(t *testing.T) {
	f := NewFactory(aws.Config{Region: "us-east-1"}, nil)

	assert.NotNil(t, f.AutoScaling())
	assert.NotNil(t, f.Hosts())
}
