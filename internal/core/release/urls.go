package release

import (
	"fmt"
	"net/url"
)

// ImageURI returns the pullable image reference for a tag in an ECR repository.
func ImageURI(registryID, region, repository, tag string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:%s", registryID, region, repository, tag)
}

// RegistryHost returns the ECR registry host for an account and region.
func RegistryHost(registryID, region string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", registryID, region)
}

// ImageConsoleURL returns the AWS console page of an image. It returns an
// empty string when the registry id or digest is unknown.
func ImageConsoleURL(set ArtifactSet, ref ArtifactRef) string {
	if ref.RegistryID == "" || ref.Digest == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.console.aws.amazon.com/ecr/repositories/private/%s/%s/_/image/%s/details?region=%s",
		set.Region, ref.RegistryID, set.Repository, ref.Digest, set.Region)
}

// ObjectURL returns the s3:// URL of a key.
func ObjectURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ObjectConsoleURL returns the AWS console page of an object.
func ObjectConsoleURL(region, bucket, key string) string {
	q := url.Values{}
	q.Set("region", region)
	q.Set("prefix", key)
	return fmt.Sprintf("https://%s.console.aws.amazon.com/s3/object/%s?%s", region, bucket, q.Encode())
}

// RefURL returns the most useful link for a resolved reference.
func RefURL(set ArtifactSet, ref ArtifactRef) string {
	if set.Backend == BackendObject {
		return ObjectURL(set.Repository, ref.Location)
	}
	return ImageConsoleURL(set, ref)
}
