package markov

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Rand is the source of randomness used for sampling. *rand.Rand from
// math/rand/v2 satisfies it, which makes generation seedable.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// globalRand draws from the process-wide math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// NewSeededRand returns a deterministic Rand for the given seed.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Counter accumulates how often each outcome was observed after one context
// and samples outcomes in proportion to those frequencies.
type Counter[T comparable] struct {
	counts map[Outcome[T]]int
	// seen keeps first-observation order so a seeded Rand is reproducible.
	seen  []Outcome[T]
	total int
}

// NewCounter returns an empty Counter.
func NewCounter[T comparable]() *Counter[T] {
	return &Counter[T]{counts: make(map[Outcome[T]]int)}
}

// Add records one observation of o.
func (c *Counter[T]) Add(o Outcome[T]) {
	c.addN(o, 1)
}

func (c *Counter[T]) addN(o Outcome[T], n int) {
	if _, ok := c.counts[o]; !ok {
		c.seen = append(c.seen, o)
	}
	c.counts[o] += n
	c.total += n
}

// Total returns the number of observations recorded.
func (c *Counter[T]) Total() int {
	return c.total
}

// Len returns the number of distinct outcomes observed.
func (c *Counter[T]) Len() int {
	return len(c.seen)
}

// Count returns how often o was observed.
func (c *Counter[T]) Count(o Outcome[T]) int {
	return c.counts[o]
}

// Distribution returns a copy of the outcome counts.
func (c *Counter[T]) Distribution() map[Outcome[T]]int {
	dist := make(map[Outcome[T]]int, len(c.counts))
	for o, n := range c.counts {
		dist[o] = n
	}
	return dist
}

// Outcomes returns the observed outcomes in first-observation order.
func (c *Counter[T]) Outcomes() []Outcome[T] {
	out := make([]Outcome[T], len(c.seen))
	copy(out, c.seen)
	return out
}

// Sample draws an outcome with probability count/total. It panics if the
// counter is empty.
func (c *Counter[T]) Sample(r Rand) Outcome[T] {
	if c.total <= 0 {
		panic("markov: Sample called on an empty Counter")
	}
	n := r.IntN(c.total)
	for _, o := range c.seen {
		n -= c.counts[o]
		if n < 0 {
			return o
		}
	}
	return c.seen[len(c.seen)-1]
}

// SampleWith draws an outcome like Sample, reshaped by the given options.
// With no options it is identical to Sample.
func (c *Counter[T]) SampleWith(r Rand, opts ...GenerateOption) Outcome[T] {
	return c.choose(r, newGenerateOptions(opts))
}

// choose applies top-K filtering and temperature to the weighted draw.
func (c *Counter[T]) choose(r Rand, options *generateOptions) Outcome[T] {
	if options.temperature == 1.0 && (options.topK <= 0 || options.topK >= len(c.seen)) {
		return c.Sample(r)
	}
	if c.total <= 0 {
		panic("markov: Sample called on an empty Counter")
	}

	choices := c.Outcomes()
	if options.topK > 0 && options.topK < len(choices) {
		sort.SliceStable(choices, func(i, j int) bool {
			return c.counts[choices[i]] > c.counts[choices[j]]
		})
		choices = choices[:options.topK]
	}

	switch {
	case options.temperature <= 0: // Deterministic
		best, maxFreq := choices[0], -1
		for _, o := range choices {
			if c.counts[o] > maxFreq {
				best, maxFreq = o, c.counts[o]
			}
		}
		return best
	case options.temperature == 1.0:
		var totalFreq int
		for _, o := range choices {
			totalFreq += c.counts[o]
		}
		n := r.IntN(totalFreq)
		for _, o := range choices {
			n -= c.counts[o]
			if n < 0 {
				return o
			}
		}
	default:
		logProbabilities := make([]float64, len(choices))
		peak := math.Inf(-1)
		for i, o := range choices {
			lp := math.Log(float64(c.counts[o])) / options.temperature
			logProbabilities[i] = lp
			if lp > peak {
				peak = lp
			}
		}
		weights := make([]float64, len(choices))
		var totalWeight float64
		for i, lp := range logProbabilities {
			weights[i] = math.Exp(lp - peak)
			totalWeight += weights[i]
		}
		x := r.Float64() * totalWeight
		for i, o := range choices {
			x -= weights[i]
			if x < 0 {
				return o
			}
		}
	}
	return choices[len(choices)-1]
}
