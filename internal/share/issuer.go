package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/oncedrop/oncedrop/internal/metrics"
	"github.com/oncedrop/oncedrop/internal/registry"
	"github.com/oncedrop/oncedrop/internal/storage"
)

// Issuer accepts uploads and mints their download ids.
type Issuer struct {
	reg     *registry.Registry
	blobs   storage.Storage
	metrics metrics.Metrics
	log     *slog.Logger
	newID   func() (string, error)
}

// NewIssuer creates an Issuer. Nil metrics or logger fall back to no-op
// metrics and slog.Default.
func NewIssuer(reg *registry.Registry, blobs storage.Storage, m metrics.Metrics, log *slog.Logger) *Issuer {
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{
		reg:     reg,
		blobs:   blobs,
		metrics: m,
		log:     log.With("component", "issuer"),
		newID:   NewID,
	}
}

// Issue stores content and registers it under a fresh id. encryptedName is
// kept verbatim and never inspected.
func (i *Issuer) Issue(ctx context.Context, encryptedName []byte, content io.Reader) (string, error) {
	if len(encryptedName) == 0 {
		i.metrics.IncUploads(metrics.UploadFailed)
		return "", ErrMissingName
	}

	id, err := i.newID()
	if err != nil {
		i.metrics.IncUploads(metrics.UploadFailed)
		return "", fmt.Errorf("generate id: %w", err)
	}

	handle, size, err := i.blobs.Store(ctx, content)
	if errors.Is(err, storage.ErrEmpty) {
		i.metrics.IncUploads(metrics.UploadEmpty)
		return "", ErrEmptyUpload
	}
	if err != nil {
		i.metrics.IncUploads(metrics.UploadFailed)
		return "", fmt.Errorf("store blob: %w", err)
	}

	if err := i.reg.Put(id, encryptedName, handle); err != nil {
		// A duplicate means the id generator is broken. Never overwrite.
		i.log.Error("refusing to register artifact", "artifact", fingerprint(id), "err", err)
		if rmErr := i.blobs.Remove(context.WithoutCancel(ctx), handle); rmErr != nil {
			i.log.Error("remove unregistered blob", "handle", handle, "err", rmErr)
		}
		i.metrics.IncUploads(metrics.UploadFailed)
		return "", fmt.Errorf("register artifact: %w", err)
	}

	i.metrics.IncUploads(metrics.UploadAccepted)
	i.log.Info("artifact issued", "artifact", fingerprint(id), "bytes", size)
	return id, nil
}
