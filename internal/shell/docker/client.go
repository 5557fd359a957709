// Package docker tags, pushes and pulls local images through the Docker
// Engine API.
package docker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/artpar/releasectl/internal/shell/registry"
)

// API is the subset of the Docker SDK client used here.
type API interface {
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Client moves images between the local daemon and a registry.
type Client struct {
	api    API
	out    io.Writer
	logger *slog.Logger
}

// NewDockerClient connects to the Docker daemon.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(ctx context.Context, host string, out io.Writer, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, newTransferError("connect", "", "failed to create client", ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktop, err2 := client.NewClientWithOpts(
			client.WithHost("unix://"+homeDir+"/.docker/run/docker.sock"),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := desktop.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return NewClient(desktop, out, logger), nil
			}
			desktop.Close()
		}
		cli.Close()
		return nil, newTransferError("connect", "", pingErr.Error(), ErrConnectionFailed)
	}

	return NewClient(cli, out, logger), nil
}

// NewClient wraps an existing API client. Daemon progress is written to out
// when it is non-nil.
func NewClient(api API, out io.Writer, logger *slog.Logger) *Client {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, out: out, logger: logger.With("component", "docker")}
}

// Close closes the Docker client connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// Push tags localImage as remoteRef and pushes it with auth.
func (c *Client) Push(ctx context.Context, localImage, remoteRef string, auth registry.Auth) error {
	if err := c.api.ImageTag(ctx, localImage, remoteRef); err != nil {
		if client.IsErrNotFound(err) {
			return newTransferError("push", localImage, "local image not found", ErrImageNotFound)
		}
		return newTransferError("push", localImage, err.Error(), ErrImagePushFailed)
	}

	encoded, err := encodeAuth(auth)
	if err != nil {
		return newTransferError("push", remoteRef, err.Error(), ErrAuthFailed)
	}

	c.logger.Info("pushing image", "image", remoteRef)
	reader, err := c.api.ImagePush(ctx, remoteRef, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return newTransferError("push", remoteRef, err.Error(), ErrImagePushFailed)
	}
	defer reader.Close()

	if err := c.drain(reader); err != nil {
		return newTransferError("push", remoteRef, err.Error(), classifyStreamError(err, ErrImagePushFailed))
	}
	return nil
}

// PullOptions configures Pull.
type PullOptions struct {
	Platform string // e.g. linux/amd64
	Auth     *registry.Auth
}

// Pull pulls ref from its registry.
func (c *Client) Pull(ctx context.Context, ref string, opts PullOptions) error {
	pullOpts := image.PullOptions{Platform: opts.Platform}
	if opts.Auth != nil {
		encoded, err := encodeAuth(*opts.Auth)
		if err != nil {
			return newTransferError("pull", ref, err.Error(), ErrAuthFailed)
		}
		pullOpts.RegistryAuth = encoded
	}

	c.logger.Info("pulling image", "image", ref, "platform", opts.Platform)
	reader, err := c.api.ImagePull(ctx, ref, pullOpts)
	if err != nil {
		if isNotFound(err.Error()) {
			return newTransferError("pull", ref, "image not found", ErrImageNotFound)
		}
		return newTransferError("pull", ref, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	if err := c.drain(reader); err != nil {
		return newTransferError("pull", ref, err.Error(), classifyStreamError(err, ErrImagePullFailed))
	}
	return nil
}

// drain copies the daemon's progress stream to out and returns the first
// error message it carries.
func (c *Client) drain(r io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(r, c.out, 0, false, nil)
}

func encodeAuth(auth registry.Auth) (string, error) {
	return dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	})
}

func classifyStreamError(err error, fallback error) error {
	var jerr *jsonmessage.JSONError
	if errors.As(err, &jerr) && isNotFound(jerr.Message) {
		return ErrImageNotFound
	}
	if errors.As(err, &jerr) && (strings.Contains(jerr.Message, "denied") || strings.Contains(jerr.Message, "no basic auth")) {
		return ErrAuthFailed
	}
	return fallback
}

func isNotFound(msg string) bool {
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "manifest unknown") ||
		strings.Contains(msg, "repository does not exist")
}
