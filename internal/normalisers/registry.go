package normalisers

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/normalisers/html"
	"github.com/custodia-labs/kbase/internal/normalisers/markdown"
	"github.com/custodia-labs/kbase/internal/normalisers/plaintext"
	"github.com/custodia-labs/kbase/internal/normalisers/subtitle"
)

var _ driven.TranscriptNormaliser = (*Registry)(nil)

// Registry maps file extensions to normalisers. Paths whose extension is
// not registered go to the fallback.
type Registry struct {
	byExt    map[string]driven.Normaliser
	fallback driven.Normaliser
}

// NewRegistry creates a registry with fallback used for unknown extensions.
func NewRegistry(fallback driven.Normaliser) *Registry {
	return &Registry{byExt: make(map[string]driven.Normaliser), fallback: fallback}
}

// Default returns a registry with every built-in format and plain text as
// the fallback.
func Default() *Registry {
	text := plaintext.New()
	r := NewRegistry(text)
	r.Register(text)
	r.Register(markdown.New())
	r.Register(html.New())
	r.Register(subtitle.New())
	return r
}

// Register adds n for each of its extensions, replacing earlier entries.
func (r *Registry) Register(n driven.Normaliser) {
	for _, ext := range n.Extensions() {
		r.byExt[strings.ToLower(ext)] = n
	}
}

// Lookup returns the normaliser for path, or the fallback.
func (r *Registry) Lookup(path string) driven.Normaliser {
	if n, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return n
	}
	return r.fallback
}

// Normalise converts data using the normaliser for path.
func (r *Registry) Normalise(ctx context.Context, path string, data []byte) (string, error) {
	n := r.Lookup(path)
	if n == nil {
		return string(data), nil
	}
	text, err := n.Normalise(ctx, data)
	if err != nil {
		return "", fmt.Errorf("normalise %s as %s: %w", filepath.Base(path), n.Name(), err)
	}
	return text, nil
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
