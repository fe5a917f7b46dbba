// Package text is the line-oriented front end for string chains: it splits
// input into per-line token sequences, trains a chain with them and joins
// generated tokens back into text.
package text

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/CTAG07/markovchain/pkg/markov"
)

// Tokenizer splits lines of text into tokens and joins tokens back into text.
// Its behavior can be customized with functional options.
type Tokenizer struct {
	lowercase         bool
	separator         string
	splitRegex        *regexp.Regexp
	separatorExcRegex *regexp.Regexp
}

// Option is a function that configures a Tokenizer.
type Option func(*Tokenizer)

// WithLowercase sets whether tokens are lower-cased.
// Default: true
func WithLowercase(lower bool) Option {
	return func(t *Tokenizer) {
		t.lowercase = lower
	}
}

// WithSplitRegex sets the regex used to find tokens in a line.
// Default: `\S+` (whitespace split)
func WithSplitRegex(splitRegex string) Option {
	return func(t *Tokenizer) {
		t.splitRegex = regexp.MustCompile(splitRegex)
	}
}

// WithSeparator sets the string used for joining tokens.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *Tokenizer) {
		t.separator = sep
	}
}

// WithSeparatorExcRegex sets the regex deciding which tokens get no separator
// before them when joining.
// Default: `^[.,!?;:]`
func WithSeparatorExcRegex(excRegex string) Option {
	return func(t *Tokenizer) {
		t.separatorExcRegex = regexp.MustCompile(excRegex)
	}
}

// NewTokenizer creates a tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewTokenizer(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		lowercase:  true,
		separator:  " ",
		splitRegex: regexp.MustCompile(`\S+`),
		// Punctuation attaches to the previous token.
		separatorExcRegex: regexp.MustCompile(`^[.,!?;:]`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Split returns the tokens of a single line.
func (t *Tokenizer) Split(line string) []string {
	if t.lowercase {
		line = strings.ToLower(line)
	}
	tokens := t.splitRegex.FindAllString(line, -1)
	if tokens == nil {
		tokens = []string{}
	}
	return tokens
}

// Join builds a string from generated tokens.
func (t *Tokenizer) Join(tokens []string) string {
	var builder strings.Builder
	for i, tok := range tokens {
		if i > 0 && !t.separatorExcRegex.MatchString(tok) {
			builder.WriteString(t.separator)
		}
		builder.WriteString(tok)
	}
	return builder.String()
}

// NewStream returns a stream that yields one token sequence per line of r.
func (t *Tokenizer) NewStream(r io.Reader) *LineStream {
	return &LineStream{
		reader:    bufio.NewReader(r),
		tokenizer: t,
	}
}

// LineStream reads a stream of text one line at a time.
// Lines have no length limit.
type LineStream struct {
	reader    *bufio.Reader
	tokenizer *Tokenizer
	done      bool
}

// Next returns the tokens of the next line. A blank line yields an empty
// slice. When the stream is exhausted it returns nil and io.EOF; any other
// error is a problem reading from the underlying reader.
func (s *LineStream) Next() ([]string, error) {
	if s.done {
		return nil, io.EOF
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		s.done = true
		if line == "" {
			return nil, io.EOF
		}
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return s.tokenizer.Split(line), nil
}

// Train feeds every line of r to chain as its own sequence and returns the
// number of lines trained.
func (t *Tokenizer) Train(chain *markov.Chain[string], r io.Reader) (int, error) {
	stream := t.NewStream(r)
	var lines int
	for {
		tokens, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, fmt.Errorf("tokenizer error after %d lines: %w", lines, err)
		}
		chain.Train(tokens)
		lines++
	}
}
