// Package storage holds uploaded document files.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("stored file not found")

// Blobs stores and retrieves uploaded files by key.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
