// Package objectstore manages per-tenant buckets on an S3-compatible store
// (AWS S3 or MinIO).
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/plexica/tenantd/pkg/config"
	"github.com/plexica/tenantd/pkg/logger"
	"go.uber.org/zap"
)

// bucketPrefix is prepended to the tenant slug to form the bucket name.
const bucketPrefix = "tenant-"

// Store wraps the S3 client for tenant bucket management.
type Store struct {
	client *s3.Client
	region string
}

// New builds a store from object store configuration. ForcePathStyle is
// required for MinIO-style endpoints.
func New(ctx context.Context, cfg *config.ObjectStoreConfig) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Store{client: client, region: cfg.Region}, nil
}

// BucketName returns the bucket name for a tenant slug.
func BucketName(slug string) string {
	return bucketPrefix + slug
}

// EnsureBucket creates the tenant's bucket when it does not exist yet.
// Already-existing buckets (including ones owned by this account from an
// earlier attempt) are a no-op.
func (s *Store) EnsureBucket(ctx context.Context, slug string) error {
	bucket := BucketName(slug)

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		logger.FromContext(ctx).Info("bucket already exists, skipping creation",
			zap.String("bucket", bucket))
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 is the only region that rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err = s.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// RemoveBucket deletes the tenant's bucket. A bucket that is already gone is
// not an error.
func (s *Store) RemoveBucket(ctx context.Context, slug string) error {
	bucket := BucketName(slug)

	_, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noBucket) {
			return nil
		}
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}
