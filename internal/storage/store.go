package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// ObjectStore is the surface shared by the MinIO and S3 clients.
type ObjectStore interface {
	Bucket() string
	EnsureBucket(ctx context.Context) error
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

var (
	_ ObjectStore = (*MinIOClient)(nil)
	_ ObjectStore = (*S3Client)(nil)
)

// Open builds the object store for backend.
func Open(ctx context.Context, backend string, minioCfg MinIOConfig, s3Cfg S3Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMinIO:
		return NewMinIOClient(minioCfg)
	case BackendS3:
		return NewS3Client(ctx, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
