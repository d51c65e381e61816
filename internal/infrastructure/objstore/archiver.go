package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/domain"
)

// Archiver stores full bulk upload reports in S3 (or MinIO/R2). The DB log
// row keeps only the counters; row-level errors for big batches live here.
type Archiver struct {
	client *s3.Client
	bucket string
}

type Options struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for AWS; set for MinIO/R2
	AccessKeyID     string // empty defers to the default credential chain
	SecretAccessKey string
	ForcePathStyle  bool
}

func New(ctx context.Context, opts Options) (*Archiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}

	if opts.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               opts.Endpoint,
				HostnameImmutable: true,
			}, nil
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
	})

	return &Archiver{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the archive bucket if it doesn't exist yet. Intended
// for MinIO dev setups; on AWS the bucket is provisioned out of band.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}
	if _, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive uploads the report as JSON and returns the object key.
func (a *Archiver) Archive(ctx context.Context, logID uuid.UUID, report *domain.BulkReport) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("bulk-reports/%04d/%02d/%s.json", now.Year(), int(now.Month()), logID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put report %s: %w", key, err)
	}
	return key, nil
}
