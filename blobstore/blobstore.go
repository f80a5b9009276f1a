// Package blobstore abstracts where index segment files live. Text search
// segments are immutable once written, so the interface is write-once:
// Put a whole object, then serve random-access reads from it.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Blob is one immutable object open for reading. ReadAt carries a context
// because remote stores turn each read into a ranged request.
type Blob interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// Store is a keyed collection of immutable blobs.
type Store interface {
	Open(ctx context.Context, key string) (Blob, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// ReadAll reads a whole blob into memory.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
