package dedup

import (
	"fmt"
	"sync"
)

// Entry is what the index stores per fingerprint: the owning asset's
// content checksum and its deep feature vector for similarity checks.
type Entry struct {
	Checksum string
	Features []float64
}

// Index maps perceptual fingerprints to entries under a hard capacity.
// Eviction is FIFO by insertion order, not access recency: an index plus an
// insertion-order queue keeps the semantics simple and testable. Reads take
// the shared lock; writes are exclusive.
type Index struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]Entry
	order    []string
}

// NewIndex creates an index bounded at capacity entries.
func NewIndex(capacity int) (*Index, error) {
	if capacity <= 0 {
		return nil, &Error{Reason: fmt.Sprintf("index capacity %d must be positive", capacity)}
	}
	return &Index{
		capacity: capacity,
		entries:  make(map[string]Entry, capacity),
		order:    make([]string, 0, capacity),
	}, nil
}

// Len returns the current entry count.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Get returns the entry for an exact fingerprint match.
func (i *Index) Get(fingerprint string) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[fingerprint]
	return e, ok
}

// Put inserts or replaces an entry, evicting the oldest-inserted entry when
// the capacity would be exceeded.
func (i *Index) Put(fingerprint string, entry Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.entries[fingerprint]; exists {
		i.entries[fingerprint] = entry
		return
	}
	if len(i.entries) >= i.capacity {
		oldest := i.order[0]
		i.order = i.order[1:]
		delete(i.entries, oldest)
	}
	i.entries[fingerprint] = entry
	i.order = append(i.order, fingerprint)
}

// Features returns a snapshot of all cached feature vectors. The slices are
// shared storage; callers must not mutate them.
func (i *Index) Features() [][]float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([][]float64, 0, len(i.order))
	for _, fp := range i.order {
		if e, ok := i.entries[fp]; ok && len(e.Features) > 0 {
			out = append(out, e.Features)
		}
	}
	return out
}
