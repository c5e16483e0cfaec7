package driven

import "context"

// Normaliser turns one transcript format into plain text for extraction.
type Normaliser interface {
	// Name identifies the format, e.g. "markdown".
	Name() string

	// Extensions returns the lower-case file extensions handled, with the dot.
	Extensions() []string

	// Normalise converts raw file content to plain text.
	Normalise(ctx context.Context, data []byte) (string, error)
}

// TranscriptNormaliser picks a Normaliser for a transcript by its path.
type TranscriptNormaliser interface {
	// Normalise converts the file at path, whose content is data, to text.
	// Unknown extensions are treated as plain text.
	Normalise(ctx context.Context, path string, data []byte) (string, error)

	// Extensions returns every extension with a registered normaliser.
	Extensions() []string
}
