// Package blob re-exports the media storage abstractions and wires the
// infra-backed implementations. Packages outside internal/blob depend on
// blob.Store rather than importing infra packages directly.
package blob

import (
	"dynastycore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored media metadata.
	Info = core.Info
	// Store is the interface for media storage backends.
	Store = core.Store
)

const (
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound reports a missing media object.
	ErrNotFound = core.ErrNotFound
	// ErrInvalidKey reports an unusable media reference.
	ErrInvalidKey = core.ErrInvalidKey
)
