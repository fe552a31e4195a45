// Package memory tracks a device memory budget. Every component that places
// data on the accelerator (codebook allocation, feature extraction,
// encode/decode batches) reserves against a shared Ledger before executing
// and releases on every exit path.
package memory

import (
	"fmt"
	"sync"
)

// ErrExhausted is returned when a reservation would exceed the ledger budget.
// Callers classify it as a retryable infrastructure failure.
type ErrExhausted struct {
	Requested uint64
	Available uint64
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("memory: reservation of %d bytes exceeds available budget of %d bytes",
		e.Requested, e.Available)
}

// Ledger is a device memory budget with atomic reserve/release. A single
// ledger instance is shared by every memory-bearing component; it is the
// only mutual-exclusion boundary in the pipeline besides the caches.
type Ledger struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
}

// NewLedger creates a ledger with the given capacity in bytes.
func NewLedger(capacity uint64) *Ledger {
	return &Ledger{capacity: capacity}
}

// Capacity returns the total budget in bytes.
func (l *Ledger) Capacity() uint64 {
	return l.capacity
}

// Used returns the currently reserved byte count.
func (l *Ledger) Used() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Available returns the unreserved byte count.
func (l *Ledger) Available() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.used
}

// Reserve atomically claims n bytes from the budget. The returned
// Reservation must be released via defer so the claim is returned on every
// exit path, including error and cancellation.
func (l *Ledger) Reserve(n uint64) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used+n > l.capacity {
		return nil, &ErrExhausted{Requested: n, Available: l.capacity - l.used}
	}
	l.used += n
	return &Reservation{ledger: l, bytes: n}, nil
}

// Reservation is a scoped claim against the ledger. Release is idempotent.
type Reservation struct {
	ledger *Ledger
	bytes  uint64
	once   sync.Once
}

// Bytes returns the size of the claim.
func (r *Reservation) Bytes() uint64 {
	return r.bytes
}

// Release returns the claim to the ledger. Safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.ledger.mu.Lock()
		r.ledger.used -= r.bytes
		r.ledger.mu.Unlock()
	})
}
