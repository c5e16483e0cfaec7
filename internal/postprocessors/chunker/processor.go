// Package chunker splits long transcripts into overlapping pieces.
package chunker

import (
	"strings"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

var _ driven.TextSplitter = (*Processor)(nil)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 12000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 400

// Processor splits text into chunks of at most chunkSize characters,
// preferring to cut at line breaks, then sentence ends, then spaces.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Split cuts text into chunks. Text that fits in one chunk is returned
// unchanged; empty or blank text yields nil.
func (p *Processor) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	r := []rune(text)
	if len(r) <= p.chunkSize {
		return []string{text}
	}

	chunks := make([]string, 0, len(r)/(p.chunkSize-p.overlap)+1)
	start := 0
	for start < len(r) {
		end := min(start+p.chunkSize, len(r))
		if end < len(r) {
			end = cutPoint(r, start, end)
		}
		if piece := strings.TrimSpace(string(r[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(r) {
			break
		}

		// Move start forward, keeping the overlap but always progressing.
		next := end - p.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// cutPoint finds a natural boundary in the second half of r[start:end].
func cutPoint(r []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, isBoundary := range []func(i int) bool{
		func(i int) bool { return r[i-1] == '\n' },
		func(i int) bool { return strings.ContainsRune(".?!", r[i-2]) && r[i-1] == ' ' },
		func(i int) bool { return r[i-1] == ' ' },
	} {
		for i := end; i > floor && i-2 >= start; i-- {
			if isBoundary(i) {
				return i
			}
		}
	}
	return end
}
