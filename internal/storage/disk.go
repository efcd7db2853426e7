package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	blobExt    = ".enc"
	partialExt = ".part"
)

// FileStore implements Storage on a local directory.
// Complete blobs live at {baseDir}/{handle}.enc. Writes go to a .part file
// that is synced and renamed into place, so a handle never points at a
// partially written blob.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the directory if needed and clears .part files left
// behind by an interrupted process.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base directory", ErrIO)
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partialExt) {
			continue
		}
		if err := os.Remove(filepath.Join(baseDir, e.Name())); err != nil {
			slog.Warn("storage: remove stale partial upload", "file", e.Name(), "err", err)
		}
	}

	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(handle string) string {
	return filepath.Join(s.baseDir, handle+blobExt)
}

// Store writes r to disk and returns its handle.
func (s *FileStore) Store(ctx context.Context, r io.Reader) (string, int64, error) {
	handle, err := newHandle()
	if err != nil {
		return "", 0, fmt.Errorf("%w: generate handle: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, handle+"-*"+partialExt)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		return "", 0, fmt.Errorf("%w: write blob: %w", ErrIO, err)
	}
	if n == 0 {
		return "", 0, ErrEmpty
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("%w: sync blob: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("%w: close blob: %w", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), s.path(handle)); err != nil {
		return "", 0, fmt.Errorf("%w: commit blob: %w", ErrIO, err)
	}
	committed = true
	return handle, n, nil
}

// Open returns the blob for handle.
func (s *FileStore) Open(_ context.Context, handle string) (io.ReadCloser, int64, error) {
	if !validHandle(handle) {
		return nil, 0, ErrInvalidHandle
	}
	f, err := os.Open(s.path(handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return f, info.Size(), nil
}

// Remove deletes the blob for handle. A missing file is not an error.
func (s *FileStore) Remove(_ context.Context, handle string) error {
	if !validHandle(handle) {
		return ErrInvalidHandle
	}
	err := os.Remove(s.path(handle))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
