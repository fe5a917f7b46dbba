/*
Package markov provides a generic, in-memory, fixed-order Markov chain for
building a statistical model of token sequences and generating new sequences
from it.

A Chain of order K maps every context of K slots to a weighted Counter of the
outcomes observed after it. Contexts at the beginning of a sequence are padded
with Start slots, and the end of every trained sequence is recorded as an
explicit End outcome, so stopping competes with continuing in proportion to how
often real sequences ended there.

The token type is any comparable Go type. Tokenization, output formatting and
persistence live outside this package (see the text and markovdb packages).

A Chain is not safe for concurrent use: serialize training and generation
externally.
*/
package markov
