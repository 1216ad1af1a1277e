// Package sampler records the latest instrument price pushed by the host's
// per-bar callback. The stored value is read during the apply pipeline on
// the dispatch queue; the atomic lets the host callback run on any
// goroutine without extending the state lock to it.
package sampler

import (
	"math"
	"sync/atomic"
)

// PriceSampler stores the most recent instrument price. 0 means no bar has
// been seen yet.
type PriceSampler struct {
	bits atomic.Uint64
}

// New creates an empty sampler
func New() *PriceSampler {
	return &PriceSampler{}
}

// OnInstrumentUpdate records the latest price unconditionally
func (s *PriceSampler) OnInstrumentUpdate(price float64) {
	s.bits.Store(math.Float64bits(price))
}

// Latest returns the most recent price, or 0 if none has arrived
func (s *PriceSampler) Latest() float64 {
	return math.Float64frombits(s.bits.Load())
}
