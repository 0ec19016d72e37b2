package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is wrapped by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations.
// Keys are bucket-relative paths such as "outputs/<run>/1970s.png".
type ObjectStorage interface {
	// Upload uploads an object to storage, replacing any existing object at key
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading; a missing key wraps ErrObjectNotFound
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// BucketEnsurer is implemented by backends that can create their bucket.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// publicObjectURL joins the public base URL, bucket and key.
func publicObjectURL(publicURL, bucket, key string) string {
	return publicURL + "/" + bucket + "/" + key
}
