package markov

import "fmt"

const (
	// StartText is how a Start slot renders in String output.
	StartText = "<SOC>"
	// EndText is how an End outcome renders in String output.
	EndText = "<EOC>"
)

// Slot is a single position in a Context. It is either Start padding, meaning
// "before the sequence began", or an occupied slot holding a concrete token.
// The zero value is a Start slot.
type Slot[T comparable] struct {
	token    T
	occupied bool
}

// StartSlot returns a Start padding slot.
func StartSlot[T comparable]() Slot[T] {
	return Slot[T]{}
}

// TokenSlot returns a slot occupied by token.
func TokenSlot[T comparable](token T) Slot[T] {
	return Slot[T]{token: token, occupied: true}
}

// IsStart reports whether the slot is Start padding.
func (s Slot[T]) IsStart() bool {
	return !s.occupied
}

// Token returns the slot's token and true, or the zero value and false for a
// Start slot.
func (s Slot[T]) Token() (T, bool) {
	return s.token, s.occupied
}

func (s Slot[T]) String() string {
	if !s.occupied {
		return StartText
	}
	return fmt.Sprint(s.token)
}

// Context is an ordered window of exactly Order slots. It is the key of a
// Chain's graph; two contexts are equal when their slots are pairwise equal.
type Context[T comparable] []Slot[T]

// StartContext returns a context of order Start slots, the entry point used
// to generate a sequence from its beginning.
func StartContext[T comparable](order int) Context[T] {
	if order < 0 {
		order = 0
	}
	return make(Context[T], order)
}

// ContextOf returns a context whose slots are all occupied by tokens, in order.
func ContextOf[T comparable](tokens ...T) Context[T] {
	ctx := make(Context[T], len(tokens))
	for i, tok := range tokens {
		ctx[i] = TokenSlot(tok)
	}
	return ctx
}

// Equal reports whether c and other hold the same slots in the same order.
func (c Context[T]) Equal(other Context[T]) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Tokens returns the occupied tokens of the context in order, skipping Start
// padding.
func (c Context[T]) Tokens() []T {
	tokens := make([]T, 0, len(c))
	for _, s := range c {
		if tok, ok := s.Token(); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// shift drops the oldest slot and appends token, in place.
func (c Context[T]) shift(token T) {
	if len(c) == 0 {
		return
	}
	copy(c, c[1:])
	c[len(c)-1] = TokenSlot(token)
}

// Outcome is what follows a context: either a concrete token or End, meaning
// the sequence terminated after that context.
type Outcome[T comparable] struct {
	token T
	end   bool
}

// TokenOutcome returns an outcome for token.
func TokenOutcome[T comparable](token T) Outcome[T] {
	return Outcome[T]{token: token}
}

// EndOutcome returns the end-of-sequence outcome.
func EndOutcome[T comparable]() Outcome[T] {
	return Outcome[T]{end: true}
}

// IsEnd reports whether the outcome terminates the sequence.
func (o Outcome[T]) IsEnd() bool {
	return o.end
}

// Token returns the outcome's token and true, or the zero value and false for
// End.
func (o Outcome[T]) Token() (T, bool) {
	return o.token, !o.end
}

func (o Outcome[T]) String() string {
	if o.end {
		return EndText
	}
	return fmt.Sprint(o.token)
}
