package storage

import (
	"context"
	"errors"
	"io"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Retrying wraps a Storage and retries Open and Remove with bounded
// exponential backoff. Store is passed through untouched: an upload stream
// cannot be replayed.
type Retrying struct {
	Storage
	buildBackoff  func() backoff.BackOff
	removeTimeout time.Duration
}

// RetryOption customises NewRetrying.
type RetryOption func(*Retrying)

// WithBackoff overrides the backoff policy. The factory is called once per
// operation.
func WithBackoff(factory func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.buildBackoff = factory }
}

// WithRemoveTimeout bounds each Remove attempt.
func WithRemoveTimeout(d time.Duration) RetryOption {
	return func(r *Retrying) { r.removeTimeout = d }
}

// NewRetrying decorates delegate.
func NewRetrying(delegate Storage, opts ...RetryOption) *Retrying {
	r := &Retrying{
		Storage:       delegate,
		removeTimeout: 10 * time.Second,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 15 * time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open retries transient failures. Missing blobs fail immediately.
// Each attempt shares ctx because the returned reader may depend on it.
func (r *Retrying) Open(ctx context.Context, handle string) (io.ReadCloser, int64, error) {
	var (
		rc   io.ReadCloser
		size int64
	)
	err := r.retry(ctx, func() error {
		var err error
		rc, size, err = r.Storage.Open(ctx, handle)
		return classify(err)
	})
	if err != nil {
		return nil, 0, err
	}
	return rc, size, nil
}

// Remove retries transient failures, bounding each attempt by the remove timeout.
func (r *Retrying) Remove(ctx context.Context, handle string) error {
	return r.retry(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.removeTimeout)
		defer cancel()
		return classify(r.Storage.Remove(attemptCtx, handle))
	})
}

func (r *Retrying) retry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(r.buildBackoff(), ctx)
	return backoff.Retry(fn, b)
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidHandle) || errors.Is(err, ErrEmpty) {
		return backoff.Permanent(err)
	}
	return err
}
