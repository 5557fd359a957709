// Package objectstore implements the artifact store contract on top of an
// S3 bucket. Builds live under immutable keys; aliases are server-side
// copies of a build under a permalink key.
package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/artifact"
)

const (
	backendName = "s3"

	// buildIDMetadata is the user metadata key holding the build id of an
	// object. Copies carry it along, so alias objects know their build.
	buildIDMetadata = "releasectl-build-id"
)

// API is the subset of the S3 client used by Store.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store is an artifact.Store backed by S3.
//
// Alias objects are copies, so their ETag can differ from the build's when
// the bucket uses SSE-KMS or the copy is multipart. Identity therefore rests
// on the build id carried in object metadata; a build re-pushed with force
// under the same id is indistinguishable from the copy already live.
type Store struct {
	client API
	logger *slog.Logger
}

// New creates a Store.
func New(client API, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		logger: logger.With("component", "objectstore"),
	}
}

// =============================================================================
// artifact.Store
// =============================================================================

// GetAlias heads the alias key of set.
func (s *Store) GetAlias(ctx context.Context, set release.ArtifactSet, alias string) (*release.ArtifactRef, error) {
	return s.head(ctx, set.Repository, release.AliasObjectKey(set, alias))
}

// GetArtifact heads the build key of set.
func (s *Store) GetArtifact(ctx context.Context, set release.ArtifactSet, buildID string) (*release.ArtifactRef, error) {
	ref, err := s.head(ctx, set.Repository, release.BuildObjectKey(set, buildID))
	if ref != nil {
		ref.BuildID = buildID
	}
	return ref, err
}

func (s *Store) head(ctx context.Context, bucket, key string) (*release.ArtifactRef, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, release.NewBackendError(backendName, "HeadObject", release.ObjectURL(bucket, key), err)
	}
	ref := &release.ArtifactRef{
		Digest:   strings.Trim(aws.ToString(out.ETag), `"`),
		Location: key,
		BuildID:  out.Metadata[buildIDMetadata],
		PushedAt: out.LastModified,
	}
	return ref, nil
}

// BindAlias copies the object at ref.Location onto the alias key. The copy
// is server side and keeps the source tags.
func (s *Store) BindAlias(ctx context.Context, set release.ArtifactSet, alias string, ref release.ArtifactRef) error {
	dst := release.AliasObjectKey(set, alias)
	if ref.Location == "" {
		return release.NewError("BindAlias", set, alias, "reference has no source key", release.ErrArtifactNotFound)
	}
	if ref.Location == dst {
		return nil
	}
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(set.Repository),
		Key:               aws.String(dst),
		CopySource:        aws.String(copySource(set.Repository, ref.Location)),
		MetadataDirective: s3types.MetadataDirectiveCopy,
		TaggingDirective:  s3types.TaggingDirectiveCopy,
	})
	if err != nil {
		return release.NewBackendError(backendName, "CopyObject", release.ObjectURL(set.Repository, dst), err)
	}
	s.logger.Debug("object copied", "bucket", set.Repository, "from", ref.Location, "to", dst)
	return nil
}

// DeleteAlias deletes the alias key.
func (s *Store) DeleteAlias(ctx context.Context, set release.ArtifactSet, alias string) error {
	key := release.AliasObjectKey(set, alias)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(set.Repository),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return release.NewBackendError(backendName, "DeleteObject", release.ObjectURL(set.Repository, key), err)
	}
	return nil
}

// LastPushed lists the build keys of set and returns the newest one.
func (s *Store) LastPushed(ctx context.Context, set release.ArtifactSet) (*release.ArtifactRef, error) {
	var (
		newest *release.ArtifactRef
		token  *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(set.Repository),
			Prefix:            aws.String(release.ObjectSetPrefix(set)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, release.NewBackendError(backendName, "ListObjectsV2", release.ObjectURL(set.Repository, release.ObjectSetPrefix(set)), err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			buildID, ok := release.ParseBuildObjectKey(set, key)
			if !ok || obj.LastModified == nil {
				continue
			}
			if newest == nil || obj.LastModified.After(*newest.PushedAt) {
				newest = &release.ArtifactRef{
					Digest:   strings.Trim(aws.ToString(obj.ETag), `"`),
					BuildID:  buildID,
					Location: key,
					PushedAt: obj.LastModified,
				}
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return newest, nil
		}
		token = out.NextContinuationToken
	}
}

// =============================================================================
// Tags and uploads
// =============================================================================

// AnnotateAlias replaces the releasectl tags of the alias object, keeping
// tags owned by others.
func (s *Store) AnnotateAlias(ctx context.Context, set release.ArtifactSet, alias string, meta release.BindingMetadata) error {
	key := release.AliasObjectKey(set, alias)
	existing, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(set.Repository),
		Key:    aws.String(key),
	})
	if err != nil {
		return release.NewBackendError(backendName, "GetObjectTagging", release.ObjectURL(set.Repository, key), err)
	}

	tags := meta.Tags()
	var tagSet []s3types.Tag
	for _, t := range existing.TagSet {
		if !strings.HasPrefix(aws.ToString(t.Key), release.TagPrefix) {
			tagSet = append(tagSet, t)
		}
	}
	for _, k := range release.SortedTagKeys(tags) {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err = s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(set.Repository),
		Key:     aws.String(key),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return release.NewBackendError(backendName, "PutObjectTagging", release.ObjectURL(set.Repository, key), err)
	}
	return nil
}

// Binding reads the binding metadata of an alias object. It returns the
// zero value when the object is absent.
func (s *Store) Binding(ctx context.Context, set release.ArtifactSet, alias string) (release.BindingMetadata, error) {
	key := release.AliasObjectKey(set, alias)
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(set.Repository),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return release.BindingMetadata{}, nil
		}
		return release.BindingMetadata{}, release.NewBackendError(backendName, "GetObjectTagging", release.ObjectURL(set.Repository, key), err)
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return release.ParseBindingMetadata(tags), nil
}

// PushResult describes an upload.
type PushResult struct {
	Key     string
	Skipped bool // build already present
	Ref     release.ArtifactRef
}

// Push uploads body to the build key of set. An existing build is left in
// place unless force is set.
func (s *Store) Push(ctx context.Context, set release.ArtifactSet, buildID string, body io.Reader, force bool) (PushResult, error) {
	key := release.BuildObjectKey(set, buildID)
	if !force {
		existing, err := s.GetArtifact(ctx, set, buildID)
		if err != nil {
			return PushResult{}, err
		}
		if existing != nil {
			s.logger.Info("build already uploaded", "key", key)
			return PushResult{Key: key, Skipped: true, Ref: *existing}, nil
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(set.Repository),
		Key:      aws.String(key),
		Body:     body,
		Metadata: map[string]string{buildIDMetadata: buildID},
	})
	if err != nil {
		return PushResult{}, release.NewBackendError(backendName, "PutObject", release.ObjectURL(set.Repository, key), err)
	}
	s.logger.Info("build uploaded", "key", key)

	ref, err := s.GetArtifact(ctx, set, buildID)
	if err != nil {
		return PushResult{}, err
	}
	if ref == nil {
		return PushResult{}, release.NewError("Push", set, "", "uploaded build "+buildID+" not visible", release.ErrArtifactNotFound)
	}
	return PushResult{Key: key, Ref: *ref}, nil
}

// =============================================================================
// Helpers
// =============================================================================

// copySource returns the URL-encoded bucket/key pair CopyObject expects.
// PathEscape keeps '+', which S3 would decode as a space.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(seg), "+", "%2B")
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

var (
	_ artifact.Store     = (*Store)(nil)
	_ artifact.Annotator = (*Store)(nil)
)
