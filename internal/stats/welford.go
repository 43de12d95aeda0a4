// Package stats implements the incremental moment tracking and the Welch
// two-sample t-test that back the rollout quality gates.
package stats

import (
	"math"
	"math/rand"
)

// ReservoirCapacity bounds how many raw samples a RunningStats retains for
// the t-test. Past the cap, uniform reservoir replacement keeps the retained
// set an unbiased sample of the whole stream.
const ReservoirCapacity = 10000

// RunningStats tracks count, mean and sum of squared deviations under
// Welford's update, plus a bounded reservoir of raw samples.
type RunningStats struct {
	n        int64
	mean     float64
	m2       float64
	capacity int
	samples  []float64
	rng      *rand.Rand
}

// NewRunningStats returns an empty tracker with the default reservoir
// capacity.
func NewRunningStats() *RunningStats {
	return NewRunningStatsWithCapacity(ReservoirCapacity)
}

// NewRunningStatsWithCapacity lets tests shrink the reservoir.
func NewRunningStatsWithCapacity(capacity int) *RunningStats {
	if capacity < 1 {
		capacity = 1
	}
	return &RunningStats{
		capacity: capacity,
		samples:  make([]float64, 0, min(capacity, 64)),
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
}

// Add folds x into the moments and the reservoir.
func (r *RunningStats) Add(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (x - r.mean)

	if len(r.samples) < r.capacity {
		r.samples = append(r.samples, x)
		return
	}
	// Uniform replacement: slot j survives with probability capacity/n.
	if j := r.rng.Int63n(r.n); j < int64(r.capacity) {
		r.samples[j] = x
	}
}

// N returns the number of observed values.
func (r *RunningStats) N() int64 { return r.n }

// Mean returns the running mean, or 0 before any sample.
func (r *RunningStats) Mean() float64 { return r.mean }

// Variance returns the sample variance (Bessel-corrected), or 0 for n < 2.
func (r *RunningStats) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// Std returns the sample standard deviation.
func (r *RunningStats) Std() float64 { return math.Sqrt(r.Variance()) }

// Samples returns a copy of the retained raw samples.
func (r *RunningStats) Samples() []float64 {
	out := make([]float64, len(r.samples))
	copy(out, r.samples)
	return out
}

// Reset drops all observed state.
func (r *RunningStats) Reset() {
	r.n = 0
	r.mean = 0
	r.m2 = 0
	r.samples = r.samples[:0]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
