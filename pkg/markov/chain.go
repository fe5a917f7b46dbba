package markov

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
)

var (
	// ErrInvalidOrder is returned by New when the order is less than 1.
	ErrInvalidOrder = errors.New("markov: order must be at least 1")
	// ErrContextLength is returned when a context does not have exactly Order slots.
	ErrContextLength = errors.New("markov: context length does not match chain order")
	// ErrEmptyChain is returned when a random context is requested from a chain
	// with no trained contexts.
	ErrEmptyChain = errors.New("markov: chain has no contexts")
	// ErrInvalidCount is returned by Observe for a non-positive count.
	ErrInvalidCount = errors.New("markov: observation count must be positive")
)

// node is one level of the context trie. Nodes at depth Order carry an entry.
type node[T comparable] struct {
	children map[Slot[T]]*node[T]
	entry    *entry[T]
}

// entry pairs a context with the counter of what followed it.
type entry[T comparable] struct {
	ctx     Context[T]
	counter *Counter[T]
}

// Chain is a fixed-order Markov chain over tokens of type T.
type Chain[T comparable] struct {
	order        int
	root         *node[T]
	entries      []*entry[T] // insertion order; never shrinks
	observations int
	rng          Rand
	logger       *slog.Logger
}

// Option configures a Chain.
type Option func(*chainOptions)

type chainOptions struct {
	rng    Rand
	logger *slog.Logger
}

// WithRand sets the randomness source used for sampling. By default the
// process-wide math/rand/v2 source is used.
func WithRand(r Rand) Option {
	return func(o *chainOptions) { o.rng = r }
}

// WithLogger sets the logger. By default all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(o *chainOptions) { o.logger = logger }
}

// New returns an empty chain of the given order. An order below 1 returns
// ErrInvalidOrder.
func New[T comparable](order int, opts ...Option) (*Chain[T], error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, order)
	}
	options := &chainOptions{}
	for _, opt := range opts {
		opt(options)
	}
	c := &Chain[T]{
		order:  order,
		root:   &node[T]{},
		rng:    globalRand{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if options.rng != nil {
		c.rng = options.rng
	}
	if options.logger != nil {
		c.logger = options.logger
	}
	return c, nil
}

// SetLogger replaces the chain's logger. A nil logger is ignored.
func (c *Chain[T]) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Order returns the number of slots in every context of the chain.
func (c *Chain[T]) Order() int {
	return c.order
}

// Len returns the number of distinct contexts in the chain.
func (c *Chain[T]) Len() int {
	return len(c.entries)
}

// Observations returns the total number of observations recorded.
func (c *Chain[T]) Observations() int {
	return c.observations
}

// Train folds one sequence of tokens into the chain. See TrainSeq.
func (c *Chain[T]) Train(tokens []T) {
	c.TrainSeq(slices.Values(tokens))
}

// TrainSeq folds one sequence into the chain. A window starting as Order Start
// slots slides across the tokens; each token is recorded as the outcome of the
// window before it, and End is recorded after the last token. Every call pads
// independently, so separate calls are never joined into one sequence.
func (c *Chain[T]) TrainSeq(tokens iter.Seq[T]) {
	window := StartContext[T](c.order)
	var n int
	for tok := range tokens {
		c.record(window, TokenOutcome(tok), 1)
		window.shift(tok)
		n++
	}
	c.record(window, EndOutcome[T](), 1)

	c.logger.Debug("Sequence trained",
		slog.Int("order", c.order),
		slog.Int("tokens", n),
		slog.Int("contexts", len(c.entries)),
	)
}

// Observe records n observations of o after ctx. It exists for loaders that
// rebuild a chain from stored counts.
func (c *Chain[T]) Observe(ctx Context[T], o Outcome[T], n int) error {
	if len(ctx) != c.order {
		return fmt.Errorf("%w: got %d slots, order is %d", ErrContextLength, len(ctx), c.order)
	}
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	c.record(ctx, o, n)
	return nil
}

// Counter returns the counter stored for ctx, if any. The counter must not be
// modified.
func (c *Chain[T]) Counter(ctx Context[T]) (*Counter[T], bool) {
	e := c.lookup(ctx)
	if e == nil {
		return nil, false
	}
	return e.counter, true
}

// Contexts yields every context and its counter in insertion order. The
// yielded context is a copy.
func (c *Chain[T]) Contexts() iter.Seq2[Context[T], *Counter[T]] {
	return func(yield func(Context[T], *Counter[T]) bool) {
		for _, e := range c.entries {
			if !yield(slices.Clone(e.ctx), e.counter) {
				return
			}
		}
	}
}

// record adds n observations of o to the counter for ctx, creating the entry
// when needed. ctx is copied on insertion.
func (c *Chain[T]) record(ctx Context[T], o Outcome[T], n int) {
	cur := c.root
	for _, s := range ctx {
		next, ok := cur.children[s]
		if !ok {
			if cur.children == nil {
				cur.children = make(map[Slot[T]]*node[T])
			}
			next = &node[T]{}
			cur.children[s] = next
		}
		cur = next
	}
	if cur.entry == nil {
		cur.entry = &entry[T]{ctx: slices.Clone(ctx), counter: NewCounter[T]()}
		c.entries = append(c.entries, cur.entry)
	}
	cur.entry.counter.addN(o, n)
	c.observations += n
}

func (c *Chain[T]) lookup(ctx Context[T]) *entry[T] {
	if len(ctx) != c.order {
		return nil
	}
	cur := c.root
	for _, s := range ctx {
		next, ok := cur.children[s]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur.entry
}
