package markov

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
)

func TestGenerateEmptyChain(t *testing.T) {
	c := newTestChain(t, 2)

	if got := c.Generate(10); len(got) != 0 {
		t.Errorf("Generate() on empty chain = %v, want empty", got)
	}
	got, err := c.GenerateFrom(ContextOf("a", "b"), 10)
	if err != nil || len(got) != 0 {
		t.Errorf("GenerateFrom() on empty chain = %v, %v; want empty, nil", got, err)
	}
	ctx, got, err := c.GenerateFromRandomContext(10)
	if !errors.Is(err, ErrEmptyChain) {
		t.Errorf("GenerateFromRandomContext() error = %v, want ErrEmptyChain", err)
	}
	if ctx != nil || got != nil {
		t.Errorf("GenerateFromRandomContext() = %v, %v; want nil results", ctx, got)
	}
}

func TestGenerate(t *testing.T) {
	// A single training sequence leaves exactly one path through the graph.
	c := newTestChain(t, 2, "one fish two fish")

	testCases := []struct {
		name string
		max  int
		want []string
	}{
		{name: "Stops at End", max: 10, want: []string{"one", "fish", "two", "fish"}},
		{name: "Stopped by max", max: 3, want: []string{"one", "fish", "two"}},
		{name: "Exact length", max: 4, want: []string{"one", "fish", "two", "fish"}},
		{name: "Zero max", max: 0, want: []string{}},
		{name: "Negative max", max: -5, want: []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Generate(tc.max); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Generate(%d) = %v, want %v", tc.max, got, tc.want)
			}
		})
	}
}

func TestGenerateFrom(t *testing.T) {
	c := newTestChain(t, 2, "one fish two fish", "red fish blue fish")

	testCases := []struct {
		name      string
		ctx       Context[string]
		max       int
		want      []string
		expectErr error
	}{
		{
			name: "Continues from middle",
			ctx:  ContextOf("fish", "two"),
			max:  10,
			want: []string{"fish"},
		},
		{
			name: "Continues from start padding",
			ctx:  Context[string]{StartSlot[string](), TokenSlot("red")},
			max:  10,
			want: []string{"fish", "blue", "fish"},
		},
		{
			name: "Unknown context is a silent stop",
			ctx:  ContextOf("green", "fish"),
			max:  10,
			want: []string{},
		},
		{
			name:      "Context too short",
			ctx:       ContextOf("fish"),
			max:       10,
			expectErr: ErrContextLength,
		},
		{
			name:      "Context too long",
			ctx:       ContextOf("one", "fish", "two"),
			max:       10,
			expectErr: ErrContextLength,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.GenerateFrom(tc.ctx, tc.max)
			if tc.expectErr != nil {
				if !errors.Is(err, tc.expectErr) {
					t.Errorf("expected error %v, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("got unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("GenerateFrom(%v) = %v, want %v", tc.ctx, got, tc.want)
			}
		})
	}
}

func TestGenerateFromDoesNotModifyContext(t *testing.T) {
	c := newTestChain(t, 1, "a b c")
	ctx := ContextOf("a")
	if _, err := c.GenerateFrom(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if !ctx.Equal(ContextOf("a")) {
		t.Errorf("GenerateFrom modified its argument: %v", ctx)
	}
}

// checkWalk verifies out is a legal walk from ctx of at most limit tokens, and
// that it is shorter than limit only when End was reachable or data ran out.
func checkWalk(t *testing.T, c *Chain[string], ctx Context[string], out []string, limit int) {
	t.Helper()
	if len(out) > limit {
		t.Fatalf("generated %d tokens, max is %d", len(out), limit)
	}
	window := slices.Clone(ctx)
	for _, tok := range out {
		counter, ok := c.Counter(window)
		if !ok || counter.Count(TokenOutcome(tok)) == 0 {
			t.Fatalf("transition %v -> %q was never trained", window, tok)
		}
		window.shift(tok)
	}
	if len(out) < limit {
		counter, ok := c.Counter(window)
		if ok && counter.Count(EndOutcome[string]()) == 0 {
			t.Fatalf("stopped early at %v, which has no End outcome", window)
		}
	}
}

func TestGenerateWalksAreBounded(t *testing.T) {
	lines := []string{
		"the cat sat on the mat",
		"the cat ate the rat",
		"a rat sat on the cat",
		"on the mat the rat sat",
	}
	for order := 1; order <= 3; order++ {
		c := newTestChain(t, order, lines...)
		for _, limit := range []int{0, 1, 3, 8, 50} {
			for range 50 {
				checkWalk(t, c, StartContext[string](order), c.Generate(limit), limit)

				ctx, out, err := c.GenerateFromRandomContext(limit)
				if err != nil {
					t.Fatalf("GenerateFromRandomContext() error = %v", err)
				}
				checkWalk(t, c, ctx, out, limit)
			}
		}
	}
}

func TestGenerateFromRandomContextPicksExistingKeys(t *testing.T) {
	c := newTestChain(t, 2, "a b c", "b c d", "x")
	seen := make(map[string]bool)
	for range 500 {
		ctx, _, err := c.GenerateFromRandomContext(5)
		if err != nil {
			t.Fatalf("GenerateFromRandomContext() error = %v", err)
		}
		if _, ok := c.Counter(ctx); !ok {
			t.Fatalf("chose context %v, which is not in the chain", ctx)
		}
		seen[ctx[0].String()+" "+ctx[1].String()] = true
	}
	if len(seen) != c.Len() {
		t.Errorf("visited %d of %d contexts in 500 draws", len(seen), c.Len())
	}
}

func TestGenerateIsReproducibleWithSeed(t *testing.T) {
	lines := []string{"a b a c a d", "a a b b", "c a b d"}
	gen := func() [][]string {
		c, err := New[string](1, WithRand(NewSeededRand(99)))
		if err != nil {
			t.Fatal(err)
		}
		for _, line := range lines {
			c.Train(strings.Fields(line))
		}
		var outs [][]string
		for range 20 {
			outs = append(outs, c.Generate(20))
		}
		return outs
	}
	if a, b := gen(), gen(); !reflect.DeepEqual(a, b) {
		t.Errorf("seeded generation differs between runs:\n%v\n%v", a, b)
	}
}

func TestGenerateWithTemperatureZero(t *testing.T) {
	c := newTestChain(t, 1, "a b", "a b", "a c")
	for range 20 {
		if got := c.Generate(5, WithTemperature(0)); !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Fatalf("Generate(temperature 0) = %v, want [a b]", got)
		}
	}
}

func BenchmarkGenerate(b *testing.B) {
	c, _ := New[string](2)
	for _, line := range createBenchmarkCorpus() {
		c.Train(strings.Fields(line))
	}

	genOpts := map[string][]GenerateOption{
		"Simple":          nil,
		"WithTemp":        {WithTemperature(0.7)},
		"WithTopK":        {WithTopK(10)},
		"WithTempAndTopK": {WithTemperature(0.7), WithTopK(10)},
	}

	for name, opts := range genOpts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _, _ = c.GenerateFromRandomContext(50, opts...)
			}
		})
	}
}
