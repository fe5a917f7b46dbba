package markov

import (
	"fmt"
	"log/slog"
	"slices"
)

// generateOptions is used by the generate functions to configure sampling.
type generateOptions struct {
	temperature float64
	topK        int
}

// GenerateOption is a function that configures sampling during generation.
type GenerateOption func(*generateOptions)

// WithTemperature adjusts the randomness of outcome selection.
// A value of 1.0 is standard frequency-weighted selection.
// Values > 1.0 flatten the distribution, values < 1.0 sharpen it.
// A value of 0 or less always picks the most frequent outcome.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts selection to the k most frequent outcomes at each step.
// A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate produces up to max tokens starting from the all-Start context, as
// if beginning a new sequence. An untrained chain yields an empty slice.
func (c *Chain[T]) Generate(max int, opts ...GenerateOption) []T {
	return c.walk(StartContext[T](c.order), max, newGenerateOptions(opts))
}

// GenerateFrom produces up to max tokens continuing from ctx. It stops early
// when End is sampled or when the current context has no recorded data.
// ctx must have exactly Order slots, otherwise ErrContextLength is returned.
func (c *Chain[T]) GenerateFrom(ctx Context[T], max int, opts ...GenerateOption) ([]T, error) {
	if len(ctx) != c.order {
		return nil, fmt.Errorf("%w: got %d slots, order is %d", ErrContextLength, len(ctx), c.order)
	}
	return c.walk(slices.Clone(ctx), max, newGenerateOptions(opts)), nil
}

// GenerateFromRandomContext picks a context uniformly among those in the chain
// and generates up to max tokens from it. It returns the chosen context along
// with the output, or ErrEmptyChain if the chain has no contexts.
func (c *Chain[T]) GenerateFromRandomContext(max int, opts ...GenerateOption) (Context[T], []T, error) {
	if len(c.entries) == 0 {
		return nil, nil, ErrEmptyChain
	}
	e := c.entries[c.rng.IntN(len(c.entries))]
	return slices.Clone(e.ctx), c.walk(slices.Clone(e.ctx), max, newGenerateOptions(opts)), nil
}

// walk contains the main generation loop. window is owned by walk.
func (c *Chain[T]) walk(window Context[T], limit int, options *generateOptions) []T {
	out := make([]T, 0, min(max(limit, 0), 64))
	for len(out) < limit {
		e := c.lookup(window)
		if e == nil {
			c.logger.Debug("Generation terminated due to dead-end",
				slog.String("last_context", fmt.Sprint(window)),
				slog.Int("generated_length", len(out)),
			)
			return out
		}
		next := e.counter.choose(c.rng, options)
		tok, ok := next.Token()
		if !ok {
			c.logger.Debug("Generation terminated by EOC",
				slog.Int("generated_length", len(out)),
			)
			return out
		}
		out = append(out, tok)
		window.shift(tok)
	}
	c.logger.Debug("Generation terminated by reaching max length",
		slog.Int("max_length", limit),
	)
	return out
}
