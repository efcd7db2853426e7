// Package storage persists opaque encrypted blobs.
//
// Blobs are addressed by handles minted by the backend. Handles are unrelated
// to artifact ids, so knowing where a blob lives says nothing about the link
// that delivers it. Swap backends by changing the concrete type injected at
// startup: FileStore keeps blobs on local disk, MinioStore works with any
// S3-compatible provider.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates the handle no longer resolves to data.
	ErrNotFound = errors.New("storage: blob not found")

	// ErrEmpty indicates the stream carried zero bytes. Nothing is kept.
	ErrEmpty = errors.New("storage: blob is empty")

	// ErrIO indicates a read or write failure in the backend.
	ErrIO = errors.New("storage: I/O failure")

	// ErrInvalidHandle indicates a handle that this package never issues.
	ErrInvalidHandle = errors.New("storage: invalid handle")
)

// handleBytes is the size of the random part of a handle.
const handleBytes = 16

// Storage is the interface for persisting and retrieving blobs.
type Storage interface {
	// Store persists r under a fresh handle. The handle is returned only
	// once the write is complete; on error nothing is left behind.
	Store(ctx context.Context, r io.Reader) (handle string, size int64, err error)
	// Open returns a reader over the blob and its size in bytes.
	Open(ctx context.Context, handle string) (io.ReadCloser, int64, error)
	// Remove deletes the blob. Removing a missing blob succeeds.
	Remove(ctx context.Context, handle string) error
}

// newHandle returns 32 lowercase hex characters from crypto/rand.
func newHandle() (string, error) {
	b := make([]byte, handleBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validHandle reports whether h has the shape produced by newHandle.
func validHandle(h string) bool {
	if len(h) != 2*handleBytes {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
