package client

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a storage key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// StorageClient defines the interface for blob storage operations. Keys are
// slash-separated paths; objects are write-once from the caller's point of
// view (uploads to an existing key are overwrites with identical content).
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
