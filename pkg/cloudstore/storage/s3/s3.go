package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
	"github.com/tendant/simple-cloud/pkg/cloudstore/objectkey"
)

// Config options for the S3 backend
type Config struct {
	Region          string `mapstructure:"region"`            // AWS region
	Bucket          string `mapstructure:"bucket"`            // S3 bucket name
	AccessKeyID     string `mapstructure:"access_key_id"`     // AWS access key ID
	SecretAccessKey string `mapstructure:"secret_access_key"` // AWS secret access key
	Endpoint        string `mapstructure:"endpoint"`          // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   `mapstructure:"use_path_style"`    // Use path-style addressing (default: false)
	KeyPrefix       string `mapstructure:"key_prefix"`        // Optional prefix prepended to every key

	// Server-side encryption options
	EnableSSE    bool   `mapstructure:"enable_sse"`     // Enable server-side encryption
	SSEAlgorithm string `mapstructure:"sse_algorithm"`  // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"` // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool `mapstructure:"create_bucket_if_not_exist"`
}

// Backend is an S3-compatible implementation of the cloudstore.BlobStore interface.
// Areas are key prefixes, so EnsureArea only validates the segment.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	config   Config
}

// New connects to the configured bucket. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	config.KeyPrefix = strings.Trim(config.KeyPrefix, "/")

	awsCfg, err := loadAWSConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		}
	})

	b := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		config:   config,
	}
	if config.CreateBucketIfNotExist {
		if err := b.ensureBucket(context.Background()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

var _ cloudstore.BlobStore = (*Backend)(nil)

func loadAWSConfig(config Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), opts...)
}

// missingBucket reports whether a HeadBucket error means the bucket does
// not exist. MinIO answers with several different shapes.
func missingBucket(err error) bool {
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "BadRequest":
			return true
		}
	}
	return false
}

// ensureBucket creates the bucket unless it already exists.
func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if !missingBucket(err) {
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.config.Region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// fullKey validates objectKey and applies the configured prefix.
func (b *Backend) fullKey(objectKey string) (string, error) {
	if !objectkey.ValidKey(objectKey) {
		return "", fmt.Errorf("invalid object key %q", objectKey)
	}
	if b.config.KeyPrefix == "" {
		return objectKey, nil
	}
	return path.Join(b.config.KeyPrefix, objectKey), nil
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// EnsureArea validates the segment. S3 prefixes need no creation.
func (b *Backend) EnsureArea(ctx context.Context, segment string) error {
	if !objectkey.ValidSegment(segment) {
		return fmt.Errorf("invalid area segment %q", segment)
	}
	return nil
}

// GetObjectMeta retrieves metadata for an object in S3
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*cloudstore.ObjectMeta, error) {
	key, err := b.fullKey(objectKey)
	if err != nil {
		return nil, err
	}
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", cloudstore.ErrBlobNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}

	metadata := make(map[string]string, len(result.Metadata)+1)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	metadata["content_type"] = contentType

	meta := &cloudstore.ObjectMeta{
		Key:         objectKey,
		ContentType: contentType,
		Metadata:    metadata,
	}
	if result.ContentLength != nil {
		meta.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		meta.UpdatedAt = *result.LastModified
	}
	return meta, nil
}

// Upload uploads content directly to S3
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, cloudstore.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams streams content through the multipart uploader. A failed
// multipart upload is aborted by the uploader, so no partial object remains.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params cloudstore.UploadParams) error {
	key, err := b.fullKey(params.ObjectKey)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   cloudstore.NewContextReader(ctx, reader),
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}
	b.applySSE(input)

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Download downloads content directly from S3
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	key, err := b.fullKey(objectKey)
	if err != nil {
		return nil, err
	}
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", cloudstore.ErrBlobNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	return result.Body, nil
}

// Delete deletes content from S3. S3 treats deleting a missing key as
// success, so ErrBlobNotFound is never returned.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	key, err := b.fullKey(objectKey)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}
