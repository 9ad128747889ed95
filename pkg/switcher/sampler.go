package switcher

import (
	"math/rand/v2"
	"sync"
)

// Sampler decides per request whether to serve an A/B variant. It is safe
// for concurrent use.
type Sampler struct {
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler that diverts rate (clamped to [0,1]) of
// requests. The seed makes assignment reproducible in tests.
func NewSampler(rate float64, seed uint64) *Sampler {
	rate = min(max(rate, 0), 1)
	return &Sampler{rate: rate, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Rate returns the configured sampling rate.
func (s *Sampler) Rate() float64 { return s.rate }

// Sample flips the coin for one request over n ranked candidates. When it
// returns true, idx is a uniformly chosen non-top candidate in [1, n).
func (s *Sampler) Sample(n int) (idx int, ok bool) {
	if s == nil || s.rate <= 0 || n < 2 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.rate {
		return 0, false
	}
	return 1 + s.rng.IntN(n-1), true
}
