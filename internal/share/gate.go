package share

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oncedrop/oncedrop/internal/metrics"
	"github.com/oncedrop/oncedrop/internal/orphan"
	"github.com/oncedrop/oncedrop/internal/registry"
	"github.com/oncedrop/oncedrop/internal/storage"
)

// DefaultDeliveryTimeout bounds how long a single delivery may hold its claim.
const DefaultDeliveryTimeout = 10 * time.Minute

// Gate hands out each artifact at most once.
type Gate struct {
	reg     *registry.Registry
	blobs   storage.Storage
	orphans orphan.Ledger
	metrics metrics.Metrics
	log     *slog.Logger
	timeout time.Duration
}

// GateOption customises NewGate.
type GateOption func(*Gate)

// WithDeliveryTimeout bounds the streaming phase of each delivery.
func WithDeliveryTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) GateOption {
	return func(g *Gate) { g.log = log }
}

// NewGate creates a Gate. Blobs that cannot be removed after delivery are
// recorded in orphans.
func NewGate(reg *registry.Registry, blobs storage.Storage, orphans orphan.Ledger, opts ...GateOption) *Gate {
	g := &Gate{
		reg:     reg,
		blobs:   blobs,
		orphans: orphans,
		metrics: metrics.Noop{},
		log:     slog.Default(),
		timeout: DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "gate")
	return g
}

// Peek returns the encrypted name of an artifact that is still available.
// It does not claim the artifact.
func (g *Gate) Peek(id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	name, err := g.reg.Peek(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return name, nil
}

// Deliver claims id and opens its blob. On success the caller must stream
// the Delivery and then call exactly one of Complete or Abort. Any failure
// is reported as ErrNotFound.
//
// Cancelling ctx before Complete releases the claim, as does the delivery
// timeout.
func (g *Gate) Deliver(ctx context.Context, id string) (*Delivery, error) {
	if !ValidID(id) {
		g.metrics.IncDeliveries(metrics.DeliveryRejected)
		return nil, ErrNotFound
	}
	rec, err := g.reg.Claim(id)
	if err != nil {
		g.metrics.IncDeliveries(metrics.DeliveryRejected)
		return nil, ErrNotFound
	}

	streamCtx, cancel := context.WithTimeout(ctx, g.timeout)
	body, size, err := g.blobs.Open(streamCtx, rec.Handle)
	if err != nil {
		cancel()
		g.log.Warn("open blob for claimed artifact", "artifact", fingerprint(id), "err", err)
		g.release(rec, metrics.DeliveryReleased)
		return nil, ErrNotFound
	}

	d := &Delivery{
		ID:            id,
		EncryptedName: rec.EncryptedName,
		Size:          size,
		gate:          g,
		rec:           rec,
		body:          body,
		cancel:        cancel,
		state:         streaming,
	}
	// Fires on the deadline or when the downloader goes away. After Complete
	// or Abort it finds the delivery closed and does nothing.
	context.AfterFunc(streamCtx, func() {
		outcome := metrics.DeliveryReleased
		if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			outcome = metrics.DeliveryExpired
		}
		d.close(outcome)
	})
	return d, nil
}

func (g *Gate) release(rec registry.Record, outcome string) {
	if err := g.reg.Release(rec.ID, rec.Claim); err != nil {
		g.log.Error("release claim", "artifact", fingerprint(rec.ID), "err", err)
	}
	g.metrics.IncDeliveries(outcome)
}

// purge finalizes the record and removes its blob. A failed removal is
// recorded as an orphan; the artifact stays gone either way.
func (g *Gate) purge(ctx context.Context, rec registry.Record) {
	if err := g.reg.Finalize(rec.ID, rec.Claim); err != nil {
		g.log.Error("finalize claim", "artifact", fingerprint(rec.ID), "err", err)
	}
	g.metrics.IncDeliveries(metrics.DeliveryDelivered)

	if err := g.blobs.Remove(ctx, rec.Handle); err != nil {
		g.metrics.IncOrphanedBlobs()
		g.log.Error("orphaned blob", "artifact", fingerprint(rec.ID), "handle", rec.Handle, "err", err)
		if g.orphans == nil {
			return
		}
		if err := g.orphans.Record(ctx, rec.Handle, err.Error()); err != nil {
			g.log.Error("record orphaned blob", "handle", rec.Handle, "err", err)
		}
	}
}

type deliveryState uint8

const (
	streaming deliveryState = iota
	finalized
	released
)

// Delivery is one claimed artifact being streamed to a downloader.
type Delivery struct {
	ID            string
	EncryptedName []byte
	Size          int64

	gate   *Gate
	rec    registry.Record
	body   io.ReadCloser
	cancel context.CancelFunc
	read   atomic.Int64

	mu    sync.Mutex
	state deliveryState
}

// Read reads the encrypted content.
func (d *Delivery) Read(p []byte) (int, error) {
	if !d.streaming() {
		return 0, ErrDeliveryClosed
	}
	n, err := d.body.Read(p)
	d.read.Add(int64(n))
	if err != nil && !errors.Is(err, io.EOF) && !d.streaming() {
		return n, ErrDeliveryClosed
	}
	return n, err
}

func (d *Delivery) streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == streaming
}

// Complete reports that every byte reached the downloader. It finalizes the
// artifact and removes its blob before returning. If the delivery already
// expired or was aborted it returns ErrDeliveryClosed; if not every byte was
// read it releases the claim and returns ErrIncomplete.
func (d *Delivery) Complete(ctx context.Context) error {
	if d.read.Load() < d.Size {
		if d.close(metrics.DeliveryReleased) {
			return ErrIncomplete
		}
		return ErrDeliveryClosed
	}

	d.mu.Lock()
	if d.state != streaming {
		d.mu.Unlock()
		return ErrDeliveryClosed
	}
	d.state = finalized
	d.mu.Unlock()

	d.cancel()
	_ = d.body.Close()
	d.gate.purge(context.WithoutCancel(ctx), d.rec)
	return nil
}

// Abort reports a failed transfer and makes the artifact available again.
// Aborting a closed delivery is a no-op.
func (d *Delivery) Abort(reason error) {
	if d.close(metrics.DeliveryReleased) {
		d.gate.log.Info("delivery aborted", "artifact", fingerprint(d.ID), "sent", d.read.Load(), "size", d.Size, "reason", reason)
	}
}

// close releases the claim if the delivery is still streaming and reports
// whether it did.
func (d *Delivery) close(outcome string) bool {
	d.mu.Lock()
	if d.state != streaming {
		d.mu.Unlock()
		return false
	}
	d.state = released
	d.mu.Unlock()

	d.cancel()
	_ = d.body.Close()
	d.gate.release(d.rec, outcome)
	if outcome == metrics.DeliveryExpired {
		d.gate.log.Warn("delivery expired", "artifact", fingerprint(d.ID), "sent", d.read.Load(), "size", d.Size)
	}
	return true
}
