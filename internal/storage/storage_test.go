package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper functions ---

// newTestStore creates a FileStore in a temporary directory.
func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

// --- FileStore ---

func TestNewFileStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	_, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.ErrorIs(t, err, ErrIO)
}

func TestNewFileStore_ClearsPartials(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "abc-123.part")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	kept := filepath.Join(dir, "keep.enc")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o600))

	_, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	assert.NoError(t, err)
}

func TestFileStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := randomBytes(t, 1024)

	handle, size, err := s.Store(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)
	assert.True(t, validHandle(handle))

	rc, n, err := s.Open(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
	assert.Equal(t, data, readAll(t, rc))
}

func TestFileStore_FreshHandles(t *testing.T) {
	s := newTestStore(t)
	h1, _, err := s.Store(context.Background(), strings.NewReader("a"))
	require.NoError(t, err)
	h2, _, err := s.Store(context.Background(), strings.NewReader("a"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestFileStore_Empty(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Store(context.Background(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	entries, err := os.ReadDir(s.baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{ after int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), f.after)
	f.after -= n
	return n, nil
}

func TestFileStore_WriteFailureLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Store(context.Background(), &failingReader{after: 10})
	assert.ErrorIs(t, err, ErrIO)

	entries, err := os.ReadDir(s.baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_CancelledStore(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Store(ctx, strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Open(context.Background(), strings.Repeat("a", 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_InvalidHandle(t *testing.T) {
	s := newTestStore(t)
	for _, h := range []string{"", "../../etc/passwd", strings.Repeat("A", 32), strings.Repeat("a", 31)} {
		_, _, err := s.Open(context.Background(), h)
		assert.ErrorIs(t, err, ErrInvalidHandle, h)
		assert.ErrorIs(t, s.Remove(context.Background(), h), ErrInvalidHandle, h)
	}
}

func TestFileStore_RemoveIdempotent(t *testing.T) {
	s := newTestStore(t)
	handle, _, err := s.Store(context.Background(), strings.NewReader("ciphertext"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), handle))
	require.NoError(t, s.Remove(context.Background(), handle))

	_, _, err = s.Open(context.Background(), handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Retrying ---

type flakyStore struct {
	Storage
	openFails   int
	removeFails int
	opens       int
	removes     int
}

func (f *flakyStore) Open(ctx context.Context, h string) (io.ReadCloser, int64, error) {
	f.opens++
	if f.opens <= f.openFails {
		return nil, 0, ErrIO
	}
	return f.Storage.Open(ctx, h)
}

func (f *flakyStore) Remove(ctx context.Context, h string) error {
	f.removes++
	if f.removes <= f.removeFails {
		return ErrIO
	}
	return f.Storage.Remove(ctx, h)
}

func fastBackoff(retries uint64) RetryOption {
	return WithBackoff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	})
}

func TestRetrying_OpenRecovers(t *testing.T) {
	base := newTestStore(t)
	handle, _, err := base.Store(context.Background(), strings.NewReader("blob"))
	require.NoError(t, err)

	flaky := &flakyStore{Storage: base, openFails: 2}
	r := NewRetrying(flaky, fastBackoff(3))

	rc, size, err := r.Open(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
	assert.Equal(t, []byte("blob"), readAll(t, rc))
	assert.Equal(t, 3, flaky.opens)
}

func TestRetrying_OpenGivesUp(t *testing.T) {
	base := newTestStore(t)
	flaky := &flakyStore{Storage: base, openFails: 100}
	r := NewRetrying(flaky, fastBackoff(2))

	_, _, err := r.Open(context.Background(), strings.Repeat("a", 32))
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 3, flaky.opens)
}

func TestRetrying_NotFoundIsPermanent(t *testing.T) {
	flaky := &flakyStore{Storage: newTestStore(t)}
	r := NewRetrying(flaky, fastBackoff(5))

	_, _, err := r.Open(context.Background(), strings.Repeat("b", 32))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, flaky.opens)
}

func TestRetrying_RemoveRecovers(t *testing.T) {
	base := newTestStore(t)
	handle, _, err := base.Store(context.Background(), strings.NewReader("blob"))
	require.NoError(t, err)

	flaky := &flakyStore{Storage: base, removeFails: 1}
	r := NewRetrying(flaky, fastBackoff(3), WithRemoveTimeout(time.Second))

	require.NoError(t, r.Remove(context.Background(), handle))
	assert.Equal(t, 2, flaky.removes)

	_, _, err = base.Open(context.Background(), handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrying_StorePassesThrough(t *testing.T) {
	r := NewRetrying(newTestStore(t))
	_, _, err := r.Store(context.Background(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)
}
