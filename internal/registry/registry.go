// Package registry indexes uploaded artifacts and enforces single delivery.
//
// The registry is in-memory and process-local. Every state transition runs
// under one mutex and does O(1) work; callers perform blob I/O outside it.
// Running more than one node would require moving this index into a shared
// atomic store.
package registry

import (
	"errors"
	"sync"
)

// State is the delivery state of an artifact record.
type State uint8

const (
	// Available records can be claimed by a downloader.
	Available State = iota + 1
	// Claimed records have one delivery in flight.
	Claimed
	// Gone is terminal. Records in this state are no longer indexed.
	Gone
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Claimed:
		return "claimed"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned for ids that are unknown or already finalized.
	ErrNotFound = errors.New("registry: artifact not found")

	// ErrAlreadyClaimed is returned when another delivery holds the claim.
	ErrAlreadyClaimed = errors.New("registry: artifact already claimed")

	// ErrDuplicateID means the id generator produced a collision. It is never retried.
	ErrDuplicateID = errors.New("registry: duplicate artifact id")

	// ErrStaleClaim is returned when finalize or release is called with a
	// claim token that no longer owns the record.
	ErrStaleClaim = errors.New("registry: stale claim")
)

// Record is a snapshot of an artifact handed to the claimer.
type Record struct {
	ID            string
	EncryptedName []byte
	Handle        string
	// Claim identifies the claim that produced this snapshot. Finalize and
	// Release must present it.
	Claim uint64
}

type entry struct {
	name   []byte
	handle string
	state  State
	claim  uint64
}

// Registry maps artifact ids to their metadata.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastClaim uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Put inserts a new Available record. The encrypted name is copied.
func (r *Registry) Put(id string, encryptedName []byte, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrDuplicateID
	}
	r.entries[id] = &entry{
		name:   append([]byte(nil), encryptedName...),
		handle: handle,
		state:  Available,
	}
	return nil
}

// Claim atomically moves an Available record to Claimed. Exactly one of any
// number of concurrent callers for the same id succeeds.
func (r *Registry) Claim(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if e.state != Available {
		return Record{}, ErrAlreadyClaimed
	}
	r.lastClaim++
	e.state = Claimed
	e.claim = r.lastClaim
	return Record{
		ID:            id,
		EncryptedName: append([]byte(nil), e.name...),
		Handle:        e.handle,
		Claim:         e.claim,
	}, nil
}

// Finalize marks a claimed record Gone and drops it from the index.
// Finalizing an id that is no longer indexed is a no-op.
func (r *Registry) Finalize(id string, claim uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	if e.state != Claimed || e.claim != claim {
		return ErrStaleClaim
	}
	e.state = Gone
	delete(r.entries, id)
	return nil
}

// Release returns a claimed record to Available so a later download can
// retry it.
func (r *Registry) Release(id string, claim uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.state != Claimed || e.claim != claim {
		return ErrStaleClaim
	}
	e.state = Available
	e.claim = 0
	return nil
}

// Peek returns the encrypted name of an Available record without claiming it.
func (r *Registry) Peek(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != Available {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.name...), nil
}

// State reports the current state of id. Ids that are not indexed are Gone.
func (r *Registry) State(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.state
	}
	return Gone
}

// Len returns the number of indexed records, claimed ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain removes every record and returns their storage handles. It is used
// at shutdown: an in-memory index cannot outlive the process, so its blobs
// must not either.
func (r *Registry) Drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		handles = append(handles, e.handle)
		delete(r.entries, id)
	}
	return handles
}
