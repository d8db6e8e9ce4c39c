// Package core defines the media storage abstractions shared by the blob
// backends. Member records hold object references; backends turn a reference
// into a time-limited URL a client can fetch.
package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory represents an in-memory implementation used in tests and local runs.
	DriverMemory Driver = "memory"
)

// DefaultURLExpiry is used when SignedURLOptions leaves Expiry unset.
const DefaultURLExpiry = 15 * time.Minute

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Expiry time.Duration
	// ContentDisposition, when set, is echoed back by the backend on download.
	ContentDisposition string
}

// Info describes a stored media object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store resolves media references held on member records.
type Store interface {
	// Head returns object metadata, or ErrNotFound.
	Head(ctx context.Context, key string) (Info, error)
	// PresignURL returns a time-limited GET URL for key.
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned when a referenced object does not exist.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrInvalidKey is returned for empty or non-canonical keys.
	ErrInvalidKey = errors.New("blobstore: invalid key")
)

// CleanKey validates a media reference and returns it without leading slashes.
// Keys may not be empty or contain "." or ".." segments.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}

// ExpiryOrDefault returns the configured expiry or DefaultURLExpiry.
func (o SignedURLOptions) ExpiryOrDefault() time.Duration {
	if o.Expiry <= 0 {
		return DefaultURLExpiry
	}
	return o.Expiry
}
