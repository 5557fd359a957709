// Package registry implements the artifact store contract on top of an
// Amazon ECR repository. Builds are image tags, aliases are tags moved
// between image manifests with PutImage.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
)

const backendName = "ecr"

// API is the subset of the ECR client used by Registry.
type API interface {
	BatchGetImage(ctx context.Context, in *ecr.BatchGetImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error)
	PutImage(ctx context.Context, in *ecr.PutImageInput, optFns ...func(*ecr.Options)) (*ecr.PutImageOutput, error)
	BatchDeleteImage(ctx context.Context, in *ecr.BatchDeleteImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error)
	DescribeImages(ctx context.Context, in *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// Registry is an artifact.Store backed by ECR. The client must be
// configured for the region of the sets it is used with.
type Registry struct {
	client API
	logger *slog.Logger
}

// New creates a Registry.
func New(client API, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client: client,
		logger: logger.With("component", "registry"),
	}
}

// =============================================================================
// artifact.Store
// =============================================================================

// GetAlias resolves a tag to its image manifest.
func (r *Registry) GetAlias(ctx context.Context, set release.ArtifactSet, alias string) (*release.ArtifactRef, error) {
	return r.getByTag(ctx, set, alias, "")
}

// GetArtifact resolves a build tag to its image manifest.
func (r *Registry) GetArtifact(ctx context.Context, set release.ArtifactSet, buildID string) (*release.ArtifactRef, error) {
	return r.getByTag(ctx, set, buildID, buildID)
}

func (r *Registry) getByTag(ctx context.Context, set release.ArtifactSet, tag, buildID string) (*release.ArtifactRef, error) {
	image, err := r.batchGetImage(ctx, set, ecrtypes.ImageIdentifier{ImageTag: aws.String(tag)})
	if err != nil || image == nil {
		return nil, err
	}
	ref := refFromImage(*image)
	ref.Location = tag
	ref.BuildID = buildID
	return &ref, nil
}

func (r *Registry) batchGetImage(ctx context.Context, set release.ArtifactSet, id ecrtypes.ImageIdentifier) (*ecrtypes.Image, error) {
	out, err := r.client.BatchGetImage(ctx, &ecr.BatchGetImageInput{
		RepositoryName: aws.String(set.Repository),
		ImageIds:       []ecrtypes.ImageIdentifier{id},
	})
	if err != nil {
		return nil, release.NewBackendError(backendName, "BatchGetImage", imageName(set, id), err)
	}
	for _, f := range out.Failures {
		switch f.FailureCode {
		case ecrtypes.ImageFailureCodeImageNotFound:
			return nil, nil
		default:
			return nil, release.NewBackendError(backendName, "BatchGetImage", imageName(set, id),
				fmt.Errorf("%s: %s", f.FailureCode, aws.ToString(f.FailureReason)))
		}
	}
	if len(out.Images) == 0 {
		return nil, nil
	}
	return &out.Images[0], nil
}

// BindAlias moves alias onto the manifest of ref. No layers are uploaded.
func (r *Registry) BindAlias(ctx context.Context, set release.ArtifactSet, alias string, ref release.ArtifactRef) error {
	manifest, mediaType := ref.Manifest, ref.MediaType
	if len(manifest) == 0 {
		image, err := r.batchGetImage(ctx, set, ecrtypes.ImageIdentifier{ImageDigest: aws.String(ref.Digest)})
		if err != nil {
			return err
		}
		if image == nil {
			return release.NewError("BindAlias", set, alias, "image "+ref.Digest+" not found", release.ErrArtifactNotFound)
		}
		manifest = []byte(aws.ToString(image.ImageManifest))
		mediaType = aws.ToString(image.ImageManifestMediaType)
	}

	in := &ecr.PutImageInput{
		RepositoryName: aws.String(set.Repository),
		ImageManifest:  aws.String(string(manifest)),
		ImageTag:       aws.String(alias),
	}
	if mediaType != "" {
		in.ImageManifestMediaType = aws.String(mediaType)
	}
	if ref.Digest != "" {
		in.ImageDigest = aws.String(ref.Digest)
	}

	if _, err := r.client.PutImage(ctx, in); err != nil {
		if isAPIError(err, "ImageAlreadyExistsException") {
			r.logger.Debug("tag already bound", "repository", set.Repository, "tag", alias)
			return nil
		}
		return release.NewBackendError(backendName, "PutImage", set.Repository+":"+alias, err)
	}
	r.logger.Debug("tag bound", "repository", set.Repository, "tag", alias, "digest", ref.Digest)
	return nil
}

// DeleteAlias removes a tag. The image itself is kept.
func (r *Registry) DeleteAlias(ctx context.Context, set release.ArtifactSet, alias string) error {
	out, err := r.client.BatchDeleteImage(ctx, &ecr.BatchDeleteImageInput{
		RepositoryName: aws.String(set.Repository),
		ImageIds:       []ecrtypes.ImageIdentifier{{ImageTag: aws.String(alias)}},
	})
	if err != nil {
		return release.NewBackendError(backendName, "BatchDeleteImage", set.Repository+":"+alias, err)
	}
	for _, f := range out.Failures {
		if f.FailureCode == ecrtypes.ImageFailureCodeImageNotFound {
			continue
		}
		return release.NewBackendError(backendName, "BatchDeleteImage", set.Repository+":"+alias,
			fmt.Errorf("%s: %s", f.FailureCode, aws.ToString(f.FailureReason)))
	}
	return nil
}

// LastPushed returns the most recently pushed image carrying a commit tag.
func (r *Registry) LastPushed(ctx context.Context, set release.ArtifactSet) (*release.ArtifactRef, error) {
	details, err := r.describeImages(ctx, set, nil)
	if err != nil {
		return nil, err
	}

	var newest *ecrtypes.ImageDetail
	var newestTag string
	for i := range details {
		d := details[i]
		tag := release.SelectCommitTag(d.ImageTags)
		if tag == "" || d.ImagePushedAt == nil {
			continue
		}
		if newest == nil || d.ImagePushedAt.After(*newest.ImagePushedAt) {
			newest = &details[i]
			newestTag = tag
		}
	}
	if newest == nil {
		return nil, nil
	}
	pushed := *newest.ImagePushedAt
	return &release.ArtifactRef{
		Digest:     aws.ToString(newest.ImageDigest),
		BuildID:    newestTag,
		Location:   newestTag,
		MediaType:  aws.ToString(newest.ImageManifestMediaType),
		RegistryID: aws.ToString(newest.RegistryId),
		PushedAt:   &pushed,
	}, nil
}

// =============================================================================
// Optional capabilities
// =============================================================================

// ResolveCommitTag returns the commit tag sharing an image with alias, or
// an empty string when alias is unbound or the image has no commit tag.
func (r *Registry) ResolveCommitTag(ctx context.Context, set release.ArtifactSet, alias string) (string, error) {
	details, err := r.describeImages(ctx, set, []ecrtypes.ImageIdentifier{{ImageTag: aws.String(alias)}})
	if err != nil {
		if errors.Is(err, errImageNotFound) {
			return "", nil
		}
		return "", err
	}
	for _, d := range details {
		if tag := release.SelectCommitTag(d.ImageTags, alias); tag != "" {
			return tag, nil
		}
	}
	return "", nil
}

// ListTags returns every tag in the repository.
func (r *Registry) ListTags(ctx context.Context, set release.ArtifactSet) ([]string, error) {
	details, err := r.describeImages(ctx, set, nil)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, d := range details {
		tags = append(tags, d.ImageTags...)
	}
	return tags, nil
}

var errImageNotFound = errors.New("image not found")

func (r *Registry) describeImages(ctx context.Context, set release.ArtifactSet, ids []ecrtypes.ImageIdentifier) ([]ecrtypes.ImageDetail, error) {
	var (
		details []ecrtypes.ImageDetail
		next    *string
	)
	for {
		in := &ecr.DescribeImagesInput{
			RepositoryName: aws.String(set.Repository),
			NextToken:      next,
		}
		if len(ids) > 0 {
			in.ImageIds = ids
		}
		out, err := r.client.DescribeImages(ctx, in)
		if err != nil {
			if isAPIError(err, "ImageNotFoundException") {
				return nil, errImageNotFound
			}
			return nil, release.NewBackendError(backendName, "DescribeImages", set.Repository, err)
		}
		details = append(details, out.ImageDetails...)
		if out.NextToken == nil || aws.ToString(out.NextToken) == "" {
			return details, nil
		}
		next = out.NextToken
	}
}

// =============================================================================
// Repository and credentials
// =============================================================================

// Auth is a decoded ECR login.
type Auth struct {
	Username      string
	Password      string
	ServerAddress string // registry host without scheme
	ExpiresAt     time.Time
}

// Login returns docker credentials for the registry.
func (r *Registry) Login(ctx context.Context) (Auth, error) {
	out, err := r.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Auth{}, release.NewBackendError(backendName, "GetAuthorizationToken", "", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Auth{}, release.NewBackendError(backendName, "GetAuthorizationToken", "", errors.New("no authorization data returned"))
	}
	data := out.AuthorizationData[0]
	return decodeAuth(aws.ToString(data.AuthorizationToken), aws.ToString(data.ProxyEndpoint), aws.ToTime(data.ExpiresAt))
}

func decodeAuth(token, endpoint string, expires time.Time) (Auth, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Auth{}, fmt.Errorf("decode ecr token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Auth{}, errors.New("decode ecr token: missing separator")
	}
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return Auth{Username: user, Password: pass, ServerAddress: host, ExpiresAt: expires}, nil
}

// EnsureRepository creates the repository unless it already exists.
func (r *Registry) EnsureRepository(ctx context.Context, set release.ArtifactSet) error {
	_, err := r.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(set.Repository),
	})
	if err == nil {
		r.logger.Info("repository created", "repository", set.Repository)
		return nil
	}
	if isAPIError(err, "RepositoryAlreadyExistsException") {
		return nil
	}
	return release.NewBackendError(backendName, "CreateRepository", set.Repository, err)
}

// =============================================================================
// Helpers
// =============================================================================

func refFromImage(image ecrtypes.Image) release.ArtifactRef {
	ref := release.ArtifactRef{
		Manifest:   []byte(aws.ToString(image.ImageManifest)),
		MediaType:  aws.ToString(image.ImageManifestMediaType),
		RegistryID: aws.ToString(image.RegistryId),
	}
	if image.ImageId != nil {
		ref.Digest = aws.ToString(image.ImageId.ImageDigest)
	}
	return ref
}

func imageName(set release.ArtifactSet, id ecrtypes.ImageIdentifier) string {
	if id.ImageTag != nil {
		return set.Repository + ":" + aws.ToString(id.ImageTag)
	}
	return set.Repository + "@" + aws.ToString(id.ImageDigest)
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

var (
	_ artifact.Store          = (*Registry)(nil)
	_ artifact.CommitResolver = (*Registry)(nil)
	_ artifact.TagLister      = (*Registry)(nil)
)
