package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
}

// MinIOClient stores derivatives in a MinIO bucket. Any S3 compatible
// endpoint works.
type MinIOClient struct {
	api    *minio.Client
	bucket string
	region string
}

func NewMinIOClient(cfg MinIOConfig) (*MinIOClient, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio endpoint %q: %w", cfg.Endpoint, err)
	}

	return &MinIOClient{api: api, bucket: bucket, region: cfg.Region}, nil
}

func (c *MinIOClient) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket when missing. Losing a creation race to
// another worker is not an error.
func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	found, err := c.api.BucketExists(ctx, c.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("bucket %s lookup: %w", c.bucket, err)
	case found:
		return nil
	}

	err = c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return fmt.Errorf("bucket %s create: %w", c.bucket, err)
}

// WriteObject uploads data, replacing any object already stored under
// objectKey.
func (c *MinIOClient) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := c.api.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload %s/%s: %w", c.bucket, objectKey, err)
	}
	return nil
}

func (c *MinIOClient) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.api.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case isMissingObject(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s/%s: %w", c.bucket, objectKey, err)
	}
}

func (c *MinIOClient) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	signed, err := c.api.PresignedGetObject(ctx, c.bucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", c.bucket, objectKey, err)
	}
	return signed.String(), nil
}

func isMissingObject(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
