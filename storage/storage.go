// Package storage is the content-transfer capability used by the Content
// Deployment and Initialization phases. Two backends are provided: Amazon
// S3 through aws-sdk-go-v2 and any S3-compatible endpoint through MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	cerrors "github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// DefaultContentType is used when the content type cannot be detected.
const DefaultContentType = "application/octet-stream"

// Object is a single upload.
type Object struct {
	Bucket string
	Key    string
	Body   []byte
	// ContentType is sniffed from Body when empty.
	ContentType string
	Metadata    map[string]string
}

// PutResult describes a stored object.
type PutResult struct {
	Bucket    string
	Key       string
	ETag      string
	VersionID string
	Size      int64
}

// Transfer stores objects in a bucket.
type Transfer interface {
	// Put uploads obj, replacing any object with the same key.
	Put(ctx context.Context, obj Object) (*PutResult, error)
	// EnsureBucket creates bucket when it does not exist. An existing bucket
	// owned by the caller is not an error.
	EnsureBucket(ctx context.Context, bucket, region string) error
}

// Sentinel errors returned, wrapped in *Error, by the backends.
var (
	ErrBucketNotFound      = errors.New("storage: bucket not found")
	ErrBucketAlreadyExists = errors.New("storage: bucket already exists")
	ErrAccessDenied        = errors.New("storage: access denied")
	ErrInvalidInput        = errors.New("storage: invalid input")
)

// Error is a storage operation failure with the bucket and key involved.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("storage.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("storage.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsBucketNotFound reports whether err means the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsAccessDenied reports whether err means the caller lacks permission.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// Classify wraps err in a reportable error whose code reflects the
// storage failure. A nil err stays nil.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := cerrors.CodeExecutionFailed
	switch {
	case IsAccessDenied(err):
		code = cerrors.CodeForbidden
	case IsBucketNotFound(err):
		code = cerrors.CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		code = cerrors.CodeInvalidInput
	}
	return cerrors.Wrap(err, code, msg)
}

// DetectContentType sniffs the media type of data.
func DetectContentType(data []byte) string {
	if len(data) == 0 {
		return DefaultContentType
	}
	return mimetype.Detect(data).String()
}

// JoinKey joins key segments with "/", dropping empty segments and
// redundant slashes.
func JoinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func validate(op string, obj Object) error {
	if obj.Bucket == "" {
		return &Error{Op: op, Key: obj.Key, Err: fmt.Errorf("bucket is required: %w", ErrInvalidInput)}
	}
	if obj.Key == "" {
		return &Error{Op: op, Bucket: obj.Bucket, Err: fmt.Errorf("key is required: %w", ErrInvalidInput)}
	}
	return nil
}

func contentType(obj Object) string {
	if obj.ContentType != "" {
		return obj.ContentType
	}
	return DetectContentType(obj.Body)
}
