// Package storage defines the object store port the pipeline consumes for
// loading source clips and persisting reconstructions. Multi-provider
// selection and retry policies live with the providers, not here.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists at the requested path.
var ErrNotFound = errors.New("storage: object not found")

// StoreOptions tune a single Store call.
type StoreOptions struct {
	// ContentType tags the stored object; informational for providers.
	ContentType string
}

// ObjectStore persists and retrieves opaque byte blobs.
type ObjectStore interface {
	// Store writes bytes at path and returns the canonical object URL.
	Store(ctx context.Context, data []byte, path string, opts StoreOptions) (string, error)

	// Retrieve reads the object at path.
	Retrieve(ctx context.Context, path string) ([]byte, error)
}
