package markdown

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles Markdown transcripts.
type Normaliser struct{}

// New creates a new Markdown normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the format name.
func (n *Normaliser) Name() string {
	return "markdown"
}

// Extensions returns the file extensions this normaliser handles.
func (n *Normaliser) Extensions() []string {
	return []string{".md", ".markdown"}
}

// Normalise strips Markdown formatting. Speaker labels such as
// "**Agent:**" keep their text.
func (n *Normaliser) Normalise(ctx context.Context, data []byte) (string, error) {
	text, err := plaintext.New().Normalise(ctx, data)
	if err != nil {
		return "", err
	}
	return Strip(text), nil
}

var (
	frontMatter  = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	codeFence    = regexp.MustCompile("(?m)^```.*$")
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	images       = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	links        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headings     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasis     = regexp.MustCompile(`(\*\*|__|\*)([^*\n]+?)(\*\*|__|\*)`)
	blockquote   = regexp.MustCompile(`(?m)^>\s?`)
	rule         = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	bullet       = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numbered     = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	tablePipes   = regexp.MustCompile(`(?m)^\|(.*)\|\s*$`)
	tableDivider = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}.*$`)
)

// Strip removes common Markdown syntax and leaves the readable text.
// Code blocks keep their content since transcripts rarely contain code
// and the fence markers are the only noise.
func Strip(content string) string {
	content = frontMatter.ReplaceAllString(content, "")
	content = codeFence.ReplaceAllString(content, "")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = images.ReplaceAllString(content, "")
	content = links.ReplaceAllString(content, "$1")
	content = headings.ReplaceAllString(content, "")
	content = emphasis.ReplaceAllString(content, "$2")
	content = blockquote.ReplaceAllString(content, "")
	content = tableDivider.ReplaceAllString(content, "")
	content = rule.ReplaceAllString(content, "")
	content = bullet.ReplaceAllString(content, "")
	content = numbered.ReplaceAllString(content, "")
	content = tablePipes.ReplaceAllStringFunc(content, func(row string) string {
		cells := strings.Split(strings.Trim(strings.TrimSpace(row), "|"), "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		return strings.Join(cells, " | ")
	})
	return plaintext.Clean(content)
}
