// Package storage abstracts the object store that holds table snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
	// Metadata is kept as object user metadata where the backend supports it.
	Metadata map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns objects whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ReadAll fetches a whole object into memory. Use it for small objects such
// as manifests.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// BatchDeleter is implemented by stores that remove many keys per request.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys []string) error
}

// DeleteAll removes keys, in one batch when store supports it. Missing keys
// are not an error.
func DeleteAll(ctx context.Context, store ObjectStore, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if batch, ok := store.(BatchDeleter); ok {
		return batch.DeleteMany(ctx, keys)
	}
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	return nil
}
