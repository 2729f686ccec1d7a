package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appConfig "github.com/kelasku/kelasku/internal/config"
)

// S3MediaRepository serves lesson video objects from an S3-compatible store
// (SeaweedFS/MinIO in self-hosted deployments). Videos are never public: the
// learning handler checks the caller's entitlement and then mints a
// short-lived presigned GET URL.
type S3MediaRepository struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// NewS3MediaRepository creates a new media repository
func NewS3MediaRepository(ctx context.Context, cfg appConfig.S3Config) (*S3MediaRepository, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // required for many S3-compatible stores
	})

	repo := &S3MediaRepository{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expiry:  15 * time.Minute,
	}

	if err := repo.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// PresignGet returns a time-limited download URL for a video object.
func (r *S3MediaRepository) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign media URL: %w", err)
	}
	return req.URL, nil
}

// ensureBucket checks if the bucket exists, creating it if necessary
func (r *S3MediaRepository) ensureBucket(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.bucket),
	})
	if err != nil {
		_, err = r.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(r.bucket),
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", r.bucket, err)
		}
	}
	return nil
}
