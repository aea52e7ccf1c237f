package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by S3Transfer.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Transfer implements Transfer on Amazon S3.
type S3Transfer struct {
	client S3API
	logger *slog.Logger
}

// S3Option configures an S3Transfer.
type S3Option func(*S3Transfer)

// WithS3Logger sets the logger.
func WithS3Logger(logger *slog.Logger) S3Option {
	return func(t *S3Transfer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewS3 creates an S3Transfer over client.
func NewS3(client S3API, opts ...S3Option) *S3Transfer {
	t := &S3Transfer{client: client, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Put implements Transfer.
func (t *S3Transfer) Put(ctx context.Context, obj Object) (*PutResult, error) {
	if err := validate("put", obj); err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(obj.Bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(contentType(obj)),
	}
	if len(obj.Metadata) > 0 {
		input.Metadata = obj.Metadata
	}

	out, err := t.client.PutObject(ctx, input)
	if err != nil {
		return nil, &Error{Op: "put", Bucket: obj.Bucket, Key: obj.Key, Err: convertS3Error(err)}
	}

	t.logger.DebugContext(ctx, "uploaded object", "bucket", obj.Bucket, "key", obj.Key, "size", len(obj.Body))
	return &PutResult{
		Bucket:    obj.Bucket,
		Key:       obj.Key,
		ETag:      strings.Trim(aws.ToString(out.ETag), `"`),
		VersionID: aws.ToString(out.VersionId),
		Size:      int64(len(obj.Body)),
	}, nil
}

// EnsureBucket implements Transfer.
func (t *S3Transfer) EnsureBucket(ctx context.Context, bucket, region string) error {
	if bucket == "" {
		return &Error{Op: "ensureBucket", Err: fmt.Errorf("bucket is required: %w", ErrInvalidInput)}
	}

	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if converted := convertS3Error(err); !errors.Is(converted, ErrBucketNotFound) {
		return &Error{Op: "ensureBucket", Bucket: bucket, Err: converted}
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	t.logger.InfoContext(ctx, "creating bucket", "bucket", bucket, "region", region)
	if _, err := t.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return &Error{Op: "ensureBucket", Bucket: bucket, Err: convertS3Error(err)}
	}
	return nil
}

// convertS3Error maps SDK errors onto the storage sentinels. Unknown errors
// are returned unchanged.
func convertS3Error(err error) error {
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	var exists *types.BucketAlreadyExists
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchBucket):
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	case errors.As(err, &exists):
		return fmt.Errorf("%w: %w", ErrBucketAlreadyExists, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	return err
}
