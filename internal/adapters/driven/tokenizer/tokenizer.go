// Package tokenizer counts tokens with tiktoken so compaction batches stay
// inside the oracle's context window.
package tokenizer

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure the tokenizers implement the interface.
var (
	_ driven.Tokenizer = (*Tiktoken)(nil)
	_ driven.Tokenizer = Approximate{}
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts BPE tokens. Encoders are held in a small pool so
// concurrent prefilter workers do not share one.
type Tiktoken struct {
	pool *concurrency.Pool[*tiktoken.Tiktoken]
}

// New loads encoding (default cl100k_base) into a pool of size encoders.
// Loading may need network access the first time, to fetch the BPE ranks.
func New(encoding string, size int) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if size <= 0 {
		size = 2
	}
	pool, err := concurrency.NewPool(size, func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(encoding)
	})
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", encoding, err)
	}
	return &Tiktoken{pool: pool}, nil
}

// Count returns the number of tokens in text. If no encoder can be
// acquired the approximate count is returned.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	enc, err := t.pool.Acquire(context.Background())
	if err != nil {
		return Approximate{}.Count(text)
	}
	defer t.pool.Release(enc)
	return len(enc.Encode(text, nil, nil))
}

// Close stops handing out encoders.
func (t *Tiktoken) Close() {
	t.pool.Close()
}

// Approximate estimates one token per four characters.
type Approximate struct{}

// Count returns ceil(runes/4).
func (Approximate) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewOrApproximate returns a tiktoken counter, or the approximate counter
// when the encoding cannot be loaded.
func NewOrApproximate(encoding string, size int) driven.Tokenizer {
	tok, err := New(encoding, size)
	if err != nil {
		logger.Warn("tokenizer: %v, using approximate counts", err)
		return Approximate{}
	}
	return tok
}
