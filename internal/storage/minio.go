package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Storage using a MinIO (or any S3-compatible) backend.
// The bucket stays private: blobs are only ever read back through the
// delivery path.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// MinioOptions configures NewMinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object key, e.g. "blobs/".
	Prefix string
	UseSSL bool
}

// NewMinioStore creates a MinIO client, ensures the bucket exists and returns
// a ready-to-use MinioStore.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		slog.Info("storage: created bucket", "bucket", opts.Bucket)
	}

	return &MinioStore{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *MinioStore) key(handle string) string {
	return s.prefix + handle + blobExt
}

// Store streams r to the bucket. The size is unknown up front, so the client
// uploads in multipart chunks.
func (s *MinioStore) Store(ctx context.Context, r io.Reader) (string, int64, error) {
	handle, err := newHandle()
	if err != nil {
		return "", 0, fmt.Errorf("%w: generate handle: %w", ErrIO, err)
	}
	key := s.key(handle)

	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: put object: %w", ErrIO, err)
	}
	if info.Size == 0 {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			slog.Warn("storage: remove empty object", "err", err)
		}
		return "", 0, ErrEmpty
	}
	return handle, info.Size, nil
}

// Open returns a reader over the object. ctx must stay live while reading.
func (s *MinioStore) Open(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	if !validHandle(handle) {
		return nil, 0, ErrInvalidHandle
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(handle), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, mapMinioErr(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any byte is sent.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, mapMinioErr(err)
	}
	return obj, st.Size, nil
}

// Remove deletes the object. S3 treats removing a missing key as success.
func (s *MinioStore) Remove(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return ErrInvalidHandle
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(handle), minio.RemoveObjectOptions{}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func mapMinioErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
