package codec

import (
	"gonum.org/v1/gonum/floats"

	"github.com/framegate/curate/memory"
)

// Codebook is a fixed table of representative patch vectors owned by one
// discrete codec instance. Its device reservation is claimed at
// construction and returned on Close; the table never exceeds the ledger
// ceiling because construction fails fast when the reservation is denied.
type Codebook struct {
	entries     [][]float64
	dim         int
	reservation *memory.Reservation
}

// newCodebook allocates the table against the ledger. Entries span the
// luminance range uniformly so constant patches, including pure black and
// pure white, reconstruct exactly.
func newCodebook(cfg *Config, ledger *memory.Ledger) (*Codebook, error) {
	res, err := ledger.Reserve(cfg.CodebookBytes())
	if err != nil {
		return nil, &Error{Op: "codebook", Reason: "device reservation denied", Err: err}
	}

	size := cfg.CodebookSize()
	dim := cfg.PatchLength()
	entries := make([][]float64, size)
	for i := range entries {
		value := float64(i) * 255.0 / float64(size-1)
		entry := make([]float64, dim)
		for j := range entry {
			entry[j] = value
		}
		entries[i] = entry
	}
	return &Codebook{entries: entries, dim: dim, reservation: res}, nil
}

// Size returns the entry count.
func (c *Codebook) Size() int {
	return len(c.entries)
}

// Nearest returns the index of the entry closest to the patch under
// Euclidean distance.
func (c *Codebook) Nearest(patch []float64) uint32 {
	best := uint32(0)
	bestDist := floats.Distance(patch, c.entries[0], 2)
	for i := 1; i < len(c.entries); i++ {
		if d := floats.Distance(patch, c.entries[i], 2); d < bestDist {
			bestDist = d
			best = uint32(i)
		}
	}
	return best
}

// Lookup returns the entry vector at index. The returned slice is the
// table's own storage; callers must not mutate it.
func (c *Codebook) Lookup(index uint32) []float64 {
	return c.entries[index]
}

// release returns the device reservation. Idempotent.
func (c *Codebook) release() {
	c.reservation.Release()
	c.entries = nil
}
