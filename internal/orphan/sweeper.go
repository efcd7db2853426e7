package orphan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oncedrop/oncedrop/internal/metrics"
)

// Remover deletes blobs by handle.
type Remover interface {
	Remove(ctx context.Context, handle string) error
}

// Sweeper periodically retries removal of orphaned blobs.
type Sweeper struct {
	ledger   Ledger
	blobs    Remover
	metrics  metrics.Metrics
	log      *slog.Logger
	interval time.Duration
	batch    int
}

// NewSweeper creates a Sweeper. A nil logger uses slog.Default.
func NewSweeper(ledger Ledger, blobs Remover, m metrics.Metrics, log *slog.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Sweeper{
		ledger:   ledger,
		blobs:    blobs,
		metrics:  m,
		log:      log.With("component", "sweeper"),
		interval: interval,
		batch:    100,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// Sweep makes one pass over pending orphans and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.ledger.Pending(ctx, s.batch)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.blobs.Remove(ctx, o.Handle); err != nil {
			s.log.Warn("orphaned blob still present", "handle", o.Handle, "attempts", o.Attempts+1, "err", err)
			if err := s.ledger.Record(ctx, o.Handle, err.Error()); err != nil {
				s.log.Error("update orphan ledger", "handle", o.Handle, "err", err)
			}
			continue
		}
		if err := s.ledger.Resolve(ctx, o.Handle); err != nil {
			s.log.Error("resolve orphan", "handle", o.Handle, "err", err)
			continue
		}
		s.metrics.IncSweptBlobs()
		removed++
	}
	if removed > 0 {
		s.log.Info("swept orphaned blobs", "removed", removed, "pending", len(pending)-removed)
	}
	return removed, nil
}
