package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact/artifacttest"
)

// =============================================================================
// Fake ECR
// =============================================================================

type fakeImage struct {
	digest   string
	manifest string
	tags     []string
	pushedAt time.Time
}

type fakeECR struct {
	mu       sync.Mutex
	images   []*fakeImage
	clock    time.Time
	puts     int
	repoSeen bool

	batchGetErr error
	failure     ecrtypes.ImageFailureCode // reported for every BatchGetImage id
}

func newFakeECR() *fakeECR {
	return &fakeECR{clock: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

// push simulates a docker push of a new image under tag.
func (f *fakeECR) push(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	f.untag(tag)
	n := len(f.images) + 1
	f.images = append(f.images, &fakeImage{
		digest:   fmt.Sprintf("sha256:%064d", n),
		manifest: `{"schemaVersion":2,"n":` + strconv.Itoa(n) + `}`,
		tags:     []string{tag},
		pushedAt: f.clock,
	})
}

func (f *fakeECR) untag(tag string) {
	for _, img := range f.images {
		for i, t := range img.tags {
			if t == tag {
				img.tags = append(img.tags[:i], img.tags[i+1:]...)
				break
			}
		}
	}
}

func (f *fakeECR) find(id ecrtypes.ImageIdentifier) *fakeImage {
	for _, img := range f.images {
		if id.ImageDigest != nil && img.digest == *id.ImageDigest {
			return img
		}
		if id.ImageTag != nil {
			for _, t := range img.tags {
				if t == *id.ImageTag {
					return img
				}
			}
		}
	}
	return nil
}

func (f *fakeECR) BatchGetImage(_ context.Context, in *ecr.BatchGetImageInput, _ ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchGetErr != nil {
		return nil, f.batchGetErr
	}
	out := &ecr.BatchGetImageOutput{}
	for _, id := range in.ImageIds {
		if f.failure != "" {
			out.Failures = append(out.Failures, ecrtypes.ImageFailure{
				FailureCode:   f.failure,
				FailureReason: aws.String("rejected"),
				ImageId:       &id,
			})
			continue
		}
		img := f.find(id)
		if img == nil {
			out.Failures = append(out.Failures, ecrtypes.ImageFailure{
				FailureCode:   ecrtypes.ImageFailureCodeImageNotFound,
				FailureReason: aws.String("Requested image not found"),
				ImageId:       &id,
			})
			continue
		}
		out.Images = append(out.Images, ecrtypes.Image{
			ImageId:                &ecrtypes.ImageIdentifier{ImageDigest: aws.String(img.digest), ImageTag: id.ImageTag},
			ImageManifest:          aws.String(img.manifest),
			ImageManifestMediaType: aws.String("application/vnd.docker.distribution.manifest.v2+json"),
			RegistryId:             aws.String("123456789012"),
			RepositoryName:         in.RepositoryName,
		})
	}
	return out, nil
}

func (f *fakeECR) PutImage(_ context.Context, in *ecr.PutImageInput, _ ...func(*ecr.Options)) (*ecr.PutImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	var target *fakeImage
	for _, img := range f.images {
		if img.manifest == aws.ToString(in.ImageManifest) {
			target = img
		}
	}
	if target == nil {
		return nil, &smithy.GenericAPIError{Code: "LayersNotFoundException", Message: "manifest references unknown layers"}
	}
	tag := aws.ToString(in.ImageTag)
	for _, t := range target.tags {
		if t == tag {
			return nil, &smithy.GenericAPIError{Code: "ImageAlreadyExistsException", Message: "tag already exists"}
		}
	}
	f.untag(tag)
	target.tags = append(target.tags, tag)
	return &ecr.PutImageOutput{}, nil
}

func (f *fakeECR) BatchDeleteImage(_ context.Context, in *ecr.BatchDeleteImageInput, _ ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ecr.BatchDeleteImageOutput{}
	for _, id := range in.ImageIds {
		if f.find(id) == nil {
			out.Failures = append(out.Failures, ecrtypes.ImageFailure{FailureCode: ecrtypes.ImageFailureCodeImageNotFound, FailureReason: aws.String("Requested image not found")})
			continue
		}
		f.untag(aws.ToString(id.ImageTag))
	}
	return out, nil
}

// DescribeImages returns one image per page to exercise pagination.
func (f *fakeECR) DescribeImages(_ context.Context, in *ecr.DescribeImagesInput, _ ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*fakeImage
	if len(in.ImageIds) > 0 {
		for _, id := range in.ImageIds {
			img := f.find(id)
			if img == nil {
				return nil, &smithy.GenericAPIError{Code: "ImageNotFoundException", Message: "not found"}
			}
			matched = append(matched, img)
		}
	} else {
		matched = f.images
	}

	start := 0
	if in.NextToken != nil {
		start, _ = strconv.Atoi(*in.NextToken)
	}
	out := &ecr.DescribeImagesOutput{}
	if start >= len(matched) {
		return out, nil
	}
	img := matched[start]
	pushed := img.pushedAt
	out.ImageDetails = []ecrtypes.ImageDetail{{
		ImageDigest:   aws.String(img.digest),
		ImageTags:     append([]string(nil), img.tags...),
		ImagePushedAt: &pushed,
		RegistryId:    aws.String("123456789012"),
	}}
	if start+1 < len(matched) {
		out.NextToken = aws.String(strconv.Itoa(start + 1))
	}
	return out, nil
}

func (f *fakeECR) GetAuthorizationToken(context.Context, *ecr.GetAuthorizationTokenInput, ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	token := base64.StdEncoding.EncodeToString([]byte("AWS:secret-password"))
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(token),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.us-east-1.amazonaws.com"),
		}},
	}, nil
}

func (f *fakeECR) CreateRepository(context.Context, *ecr.CreateRepositoryInput, ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repoSeen {
		return nil, &smithy.GenericAPIError{Code: "RepositoryAlreadyExistsException", Message: "exists"}
	}
	f.repoSeen = true
	return &ecr.CreateRepositoryOutput{}, nil
}

// =============================================================================
// Tests
// =============================================================================

func TestRegistry_Contract(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T) artifacttest.Harness {
		fake := newFakeECR()
		return artifacttest.Harness{
			Store: New(fake, nil),
			Set:   release.ContainerSet("us-east-1", "api"),
			Push: func(t *testing.T, buildID string) {
				fake.push(buildID)
			},
		}
	})
}

func TestRegistry_BindAliasAlreadyBoundIsSuccess(t *testing.T) {
	fake := newFakeECR()
	fake.push("abc1234")
	r := New(fake, nil)
	set := release.ContainerSet("us-east-1", "api")
	ctx := context.Background()

	build, err := r.GetArtifact(ctx, set, "abc1234")
	require.NoError(t, err)
	require.NotNil(t, build)

	require.NoError(t, r.BindAlias(ctx, set, "latest", *build))
	require.NoError(t, r.BindAlias(ctx, set, "latest", *build))
	assert.Equal(t, 2, fake.puts)
}

func TestRegistry_BindAliasFetchesManifestByDigest(t *testing.T) {
	fake := newFakeECR()
	fake.push("abc1234")
	r := New(fake, nil)
	set := release.ContainerSet("us-east-1", "api")
	ctx := context.Background()
	build, err := r.GetArtifact(ctx, set, "abc1234")
	require.NoError(t, err)

	bare := release.ArtifactRef{Digest: build.Digest}
	require.NoError(t, r.BindAlias(ctx, set, "latest", bare))

	live, err := r.GetAlias(ctx, set, "latest")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, build.Digest, live.Digest)
	assert.Equal(t, "123456789012", live.RegistryID)
}

func TestRegistry_BindAliasUnknownDigest(t *testing.T) {
	r := New(newFakeECR(), nil)
	set := release.ContainerSet("us-east-1", "api")

	err := r.BindAlias(context.Background(), set, "latest", release.ArtifactRef{Digest: "sha256:missing"})

	assert.ErrorIs(t, err, release.ErrArtifactNotFound)
}

func TestRegistry_BackendError(t *testing.T) {
	fake := newFakeECR()
	fake.batchGetErr = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}
	r := New(fake, nil)

	_, err := r.GetAlias(context.Background(), release.ContainerSet("us-east-1", "api"), "latest")

	require.Error(t, err)
	assert.ErrorIs(t, err, release.ErrBackend)
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "AccessDeniedException", apiErr.ErrorCode())
}

func TestRegistry_MissingTagIsAbsent(t *testing.T) {
	fake := newFakeECR()
	fake.push("abc1234")
	r := New(fake, nil)
	set := release.ContainerSet("us-east-1", "api")
	ctx := context.Background()

	ref, err := r.GetAlias(ctx, set, "latest")
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = r.GetArtifact(ctx, set, "def5678")
	require.NoError(t, err)
	assert.Nil(t, ref)

	require.NoError(t, r.DeleteAlias(ctx, set, "latest"))
}

func TestRegistry_UnexpectedImageFailure(t *testing.T) {
	fake := newFakeECR()
	fake.failure = ecrtypes.ImageFailureCodeInvalidImageTag
	r := New(fake, nil)

	ref, err := r.GetAlias(context.Background(), release.ContainerSet("us-east-1", "api"), "bad tag")

	assert.Nil(t, ref)
	assert.ErrorIs(t, err, release.ErrBackend)
	assert.Contains(t, err.Error(), string(ecrtypes.ImageFailureCodeInvalidImageTag))
}

func TestRegistry_ResolveCommitTag(t *testing.T) {
	fake := newFakeECR()
	fake.push("abc1234def")
	r := New(fake, nil)
	set := release.ContainerSet("us-east-1", "api")
	ctx := context.Background()
	build, err := r.GetArtifact(ctx, set, "abc1234def")
	require.NoError(t, err)
	require.NoError(t, r.BindAlias(ctx, set, "latest", *build))
	require.NoError(t, r.BindAlias(ctx, set, "17", *build))

	tag, err := r.ResolveCommitTag(ctx, set, "latest")
	require.NoError(t, err)
	assert.Equal(t, "abc1234def", tag)

	tag, err = r.ResolveCommitTag(ctx, set, "rollback")
	require.NoError(t, err)
	assert.Empty(t, tag)
}

func TestRegistry_ListTags(t *testing.T) {
	fake := newFakeECR()
	fake.push("3")
	fake.push("abc1234")
	fake.push("12")
	r := New(fake, nil)

	tags, err := r.ListTags(context.Background(), release.ContainerSet("us-east-1", "api"))

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3", "abc1234", "12"}, tags)
	assert.Equal(t, uint64(13), release.NextNumericTag(tags))
}

func TestRegistry_LastPushedIgnoresImagesWithoutCommitTag(t *testing.T) {
	fake := newFakeECR()
	fake.push("abc1234")
	fake.push("nightly")
	r := New(fake, nil)

	ref, err := r.LastPushed(context.Background(), release.ContainerSet("us-east-1", "api"))

	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "abc1234", ref.BuildID)
	assert.Equal(t, "123456789012", ref.RegistryID)
}

func TestRegistry_Login(t *testing.T) {
	r := New(newFakeECR(), nil)

	auth, err := r.Login(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "AWS", auth.Username)
	assert.Equal(t, "secret-password", auth.Password)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com", auth.ServerAddress)
}

func TestRegistry_EnsureRepositoryIdempotent(t *testing.T) {
	r := New(newFakeECR(), nil)
	set := release.ContainerSet("us-east-1", "api")

	require.NoError(t, r.EnsureRepository(context.Background(), set))
	require.NoError(t, r.EnsureRepository(context.Background(), set))
}
