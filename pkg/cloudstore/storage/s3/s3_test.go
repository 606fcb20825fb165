package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

func newTestBackend(t *testing.T, prefix string) *Backend {
	t.Helper()
	backend, err := New(Config{
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://127.0.0.1:1",
		UsePathStyle:    true,
		KeyPrefix:       prefix,
	})
	require.NoError(t, err)
	return backend
}

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		backend := newTestBackend(t, "")
		assert.Equal(t, "us-east-1", backend.config.Region)
	})

	t.Run("KeyPrefix", func(t *testing.T) {
		backend := newTestBackend(t, "/tenant-a/")
		key, err := backend.fullKey("seg/objects/ab/cd")
		require.NoError(t, err)
		assert.Equal(t, "tenant-a/seg/objects/ab/cd", key)
	})

	t.Run("ServerSideEncryption", func(t *testing.T) {
		backend := newTestBackend(t, "")
		backend.config.EnableSSE = true
		backend.config.SSEAlgorithm = "aws:kms"
		backend.config.SSEKMSKeyID = "key-1"

		input := &s3.PutObjectInput{}
		backend.applySSE(input)
		assert.Equal(t, "aws:kms", string(input.ServerSideEncryption))
		require.NotNil(t, input.SSEKMSKeyId)
		assert.Equal(t, "key-1", *input.SSEKMSKeyId)
	})
}

func TestS3Backend_RejectsUnsafeKeys(t *testing.T) {
	backend := newTestBackend(t, "")
	ctx := context.Background()

	assert.Error(t, backend.EnsureArea(ctx, "../x"))
	assert.NoError(t, backend.EnsureArea(ctx, "abc123"))

	err := backend.Upload(ctx, "../escape", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid object key")

	_, err = backend.Download(ctx, "/abs")
	assert.Error(t, err)
	assert.Error(t, backend.Delete(ctx, "a/../b"))
}

// TestS3Backend_Integration requires a running MinIO instance or S3 credentials
func TestS3Backend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("AWS_S3_ENDPOINT")
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	bucket := os.Getenv("AWS_S3_BUCKET")
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		t.Skip("Skipping integration test: S3/MinIO environment variables not set")
	}

	backend, err := New(Config{
		Bucket:                 bucket,
		Region:                 "us-east-1",
		AccessKeyID:            accessKey,
		SecretAccessKey:        secretKey,
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err, "Failed to create S3 backend")

	ctx := context.Background()
	objectKey := fmt.Sprintf("it%d/objects/ab/cd", time.Now().Unix())
	testData := []byte("Hello from S3 integration test!")

	t.Run("UploadAndDownload", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, bytes.NewReader(testData), cloudstore.UploadParams{
			ObjectKey: objectKey,
			MimeType:  "text/plain",
		})
		require.NoError(t, err)

		reader, err := backend.Download(ctx, objectKey)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, testData, data)
	})

	t.Run("GetObjectMeta", func(t *testing.T) {
		meta, err := backend.GetObjectMeta(ctx, objectKey)
		require.NoError(t, err)
		assert.Equal(t, int64(len(testData)), meta.Size)
		assert.Equal(t, "text/plain", meta.ContentType)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, objectKey))
		_, err := backend.Download(ctx, objectKey)
		assert.ErrorIs(t, err, cloudstore.ErrBlobNotFound)
	})
}

func TestMissingBucket(t *testing.T) {
	assert.True(t, missingBucket(&types.NotFound{}))
	assert.True(t, missingBucket(fmt.Errorf("head: %w", &types.NoSuchBucket{})))
	assert.True(t, missingBucket(&smithy.GenericAPIError{Code: "BadRequest"}))
	assert.False(t, missingBucket(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, missingBucket(errors.New("connection refused")))
}
