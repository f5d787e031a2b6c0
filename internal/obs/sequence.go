package obs

import (
	"sync/atomic"
	"time"
)

// Sequence creates monotonically increasing IDs, used for simulated
// broker order identifiers.
type Sequence struct {
	next uint64
}

// NewSequence returns a generator seeded with the given value.
func NewSequence(seed uint64) *Sequence {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &Sequence{next: seed}
}

// Next returns the next ID.
func (g *Sequence) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}
