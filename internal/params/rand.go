package params

import (
	"math/rand/v2"
	"sync"
	"time"
)

const seedMix = 0x9E3779B97F4A7C15

// Rand is a reseedable random source shared by command selection and
// parameter generation, so one seed reproduces a whole draw.
type Rand struct {
	mu  sync.Mutex
	pcg *rand.PCG
	r   *rand.Rand
}

// NewRand returns a source seeded with seed.
func NewRand(seed uint64) *Rand {
	pcg := rand.NewPCG(seed, seed^seedMix)
	return &Rand{pcg: pcg, r: rand.New(pcg)}
}

// NewTimeRand returns a source seeded from the wall clock.
func NewTimeRand() *Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}

// Seed resets the source so the following draws repeat.
func (r *Rand) Seed(seed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcg.Seed(seed, seed^seedMix)
}

// IntN returns a value in [0, n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// Int64Between returns a value in [lo, hi].
func (r *Rand) Int64Between(lo, hi int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.Int64N(hi-lo+1)
}

// Float64Between returns a value in [lo, hi).
func (r *Rand) Float64Between(lo, hi float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + (hi-lo)*r.r.Float64()
}

// Byte returns a uniformly distributed byte.
func (r *Rand) Byte() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return byte(r.r.UintN(256))
}
