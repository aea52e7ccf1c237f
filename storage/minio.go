package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioAPI is the subset of *minio.Client used by MinioTransfer.
type MinioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// MinioConfig holds the connection settings of an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Secure          bool
}

// MinioTransfer implements Transfer on any S3-compatible endpoint.
type MinioTransfer struct {
	client MinioAPI
	logger *slog.Logger
}

// NewMinio connects to the endpoint described by cfg.
func NewMinio(cfg MinioConfig, logger *slog.Logger) (*MinioTransfer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required: %w", ErrInvalidInput)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewMinioWithClient(client, logger), nil
}

// NewMinioWithClient wraps an existing client.
func NewMinioWithClient(client MinioAPI, logger *slog.Logger) *MinioTransfer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MinioTransfer{client: client, logger: logger}
}

// Put implements Transfer.
func (t *MinioTransfer) Put(ctx context.Context, obj Object) (*PutResult, error) {
	if err := validate("put", obj); err != nil {
		return nil, err
	}

	info, err := t.client.PutObject(ctx, obj.Bucket, obj.Key,
		bytes.NewReader(obj.Body), int64(len(obj.Body)),
		minio.PutObjectOptions{
			ContentType:  contentType(obj),
			UserMetadata: obj.Metadata,
		})
	if err != nil {
		return nil, &Error{Op: "put", Bucket: obj.Bucket, Key: obj.Key, Err: translateError(err)}
	}

	t.logger.DebugContext(ctx, "uploaded object", "bucket", obj.Bucket, "key", obj.Key, "size", info.Size)
	return &PutResult{
		Bucket:    obj.Bucket,
		Key:       obj.Key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
		Size:      int64(len(obj.Body)),
	}, nil
}

// EnsureBucket implements Transfer.
func (t *MinioTransfer) EnsureBucket(ctx context.Context, bucket, region string) error {
	if bucket == "" {
		return &Error{Op: "ensureBucket", Err: fmt.Errorf("bucket is required: %w", ErrInvalidInput)}
	}

	exists, err := t.client.BucketExists(ctx, bucket)
	if err != nil {
		return &Error{Op: "ensureBucket", Bucket: bucket, Err: translateError(err)}
	}
	if exists {
		return nil
	}

	t.logger.InfoContext(ctx, "creating bucket", "bucket", bucket, "region", region)
	if err := t.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return &Error{Op: "ensureBucket", Bucket: bucket, Err: translateError(err)}
	}
	return nil
}

// translateError maps MinIO error responses onto the storage sentinels.
func translateError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	case "BucketAlreadyExists":
		return fmt.Errorf("%w: %w", ErrBucketAlreadyExists, err)
	case "AccessDenied":
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}
