// Package orphan tracks delivered blobs whose removal failed and sweeps them.
//
// The ledger holds storage handles only. Their artifacts have already been
// finalized, so nothing in it can be delivered again.
package orphan

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Orphan is a blob that outlived its artifact.
type Orphan struct {
	Handle     string
	Reason     string
	Attempts   int
	RecordedAt time.Time
	UpdatedAt  time.Time
}

// Ledger persists orphaned blob handles until they are removed.
type Ledger interface {
	// Record adds handle, or bumps its attempt count if already present.
	Record(ctx context.Context, handle, reason string) error
	// Pending returns up to limit orphans, oldest first.
	Pending(ctx context.Context, limit int) ([]Orphan, error)
	// Resolve forgets handle. Resolving an unknown handle is a no-op.
	Resolve(ctx context.Context, handle string) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	orphans map[string]*Orphan
	now     func() time.Time
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{orphans: make(map[string]*Orphan), now: time.Now}
}

func (l *MemoryLedger) Record(_ context.Context, handle, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if o, ok := l.orphans[handle]; ok {
		o.Attempts++
		o.Reason = reason
		o.UpdatedAt = now
		return nil
	}
	l.orphans[handle] = &Orphan{
		Handle:     handle,
		Reason:     reason,
		Attempts:   1,
		RecordedAt: now,
		UpdatedAt:  now,
	}
	return nil
}

func (l *MemoryLedger) Pending(_ context.Context, limit int) ([]Orphan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Orphan, 0, len(l.orphans))
	for _, o := range l.orphans {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Resolve(_ context.Context, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.orphans, handle)
	return nil
}
