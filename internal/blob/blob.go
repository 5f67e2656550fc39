// Package blob stores attachment content. The tree engine only keeps
// attachment metadata rows; bytes live behind this interface.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("blob: not found")

// Store is the attachment content backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns the object's content and its content type. The caller
	// closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Remove(ctx context.Context, key string) error
}
