package markov

import (
	"math"
	"reflect"
	"testing"
)

// fixedRand always returns the same draw, clamped to the requested range.
type fixedRand struct {
	n int
	f float64
}

func (r fixedRand) IntN(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

func (r fixedRand) Float64() float64 { return r.f }

func TestCounterAdd(t *testing.T) {
	c := NewCounter[string]()
	outcomes := []Outcome[string]{
		TokenOutcome("a"), TokenOutcome("b"), TokenOutcome("a"), EndOutcome[string](), TokenOutcome("a"),
	}
	for i, o := range outcomes {
		c.Add(o)
		if c.Total() != i+1 {
			t.Fatalf("after %d adds, Total() = %d", i+1, c.Total())
		}
		var sum int
		for _, n := range c.Distribution() {
			sum += n
		}
		if sum != c.Total() {
			t.Fatalf("sum of counts %d != Total() %d", sum, c.Total())
		}
	}

	want := map[Outcome[string]]int{
		TokenOutcome("a"):    3,
		TokenOutcome("b"):    1,
		EndOutcome[string](): 1,
	}
	if got := c.Distribution(); !reflect.DeepEqual(got, want) {
		t.Errorf("Distribution() = %v, want %v", got, want)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	wantOrder := []Outcome[string]{TokenOutcome("a"), TokenOutcome("b"), EndOutcome[string]()}
	if got := c.Outcomes(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("Outcomes() = %v, want %v", got, wantOrder)
	}
}

func TestCounterDistributionIsCopy(t *testing.T) {
	c := NewCounter[int]()
	c.Add(TokenOutcome(1))
	dist := c.Distribution()
	dist[TokenOutcome(1)] = 100
	if c.Count(TokenOutcome(1)) != 1 {
		t.Errorf("modifying Distribution() changed the counter")
	}
}

func TestCounterSampleBoundaries(t *testing.T) {
	c := NewCounter[string]()
	for range 3 {
		c.Add(TokenOutcome("A"))
	}
	c.Add(TokenOutcome("B"))

	testCases := []struct {
		draw int
		want Outcome[string]
	}{
		{draw: 0, want: TokenOutcome("A")},
		{draw: 2, want: TokenOutcome("A")},
		{draw: 3, want: TokenOutcome("B")},
	}
	for _, tc := range testCases {
		if got := c.Sample(fixedRand{n: tc.draw}); got != tc.want {
			t.Errorf("Sample(draw=%d) = %v, want %v", tc.draw, got, tc.want)
		}
	}
}

func TestCounterSampleDistribution(t *testing.T) {
	c := NewCounter[string]()
	for range 3 {
		c.Add(TokenOutcome("A"))
	}
	c.Add(TokenOutcome("B"))

	const trials = 40000
	r := NewSeededRand(7)
	var hits int
	for range trials {
		if c.Sample(r) == TokenOutcome("A") {
			hits++
		}
	}
	ratio := float64(hits) / trials
	if math.Abs(ratio-0.75) > 0.02 {
		t.Errorf("A chosen %.3f of the time, want ~0.75", ratio)
	}
}

func TestCounterSampleEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected Sample on an empty counter to panic")
		}
	}()
	NewCounter[string]().Sample(NewSeededRand(1))
}

func TestCounterSampleWith(t *testing.T) {
	c := NewCounter[string]()
	c.Add(TokenOutcome("rare"))
	for range 5 {
		c.Add(TokenOutcome("common"))
	}
	c.Add(EndOutcome[string]())
	r := NewSeededRand(3)

	for i := range 50 {
		if got := c.SampleWith(r, WithTemperature(0)); got != TokenOutcome("common") {
			t.Fatalf("temperature 0 draw %d = %v, want common", i, got)
		}
		if got := c.SampleWith(r, WithTopK(1)); got != TokenOutcome("common") {
			t.Fatalf("top-1 draw %d = %v, want common", i, got)
		}
		got := c.SampleWith(r, WithTemperature(2.5), WithTopK(2))
		if got != TokenOutcome("common") && got != TokenOutcome("rare") {
			t.Fatalf("top-2 draw %d = %v, want common or rare", i, got)
		}
	}

	// With no options SampleWith matches Sample draw for draw.
	a, b := NewSeededRand(11), NewSeededRand(11)
	for range 100 {
		if x, y := c.Sample(a), c.SampleWith(b); x != y {
			t.Fatalf("Sample() = %v, SampleWith() = %v", x, y)
		}
	}
}
