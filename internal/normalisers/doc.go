// Package normalisers converts transcript files into the plain text the
// extraction job sends to the LLM. Each format lives in its own package;
// the Registry picks one by file extension.
package normalisers
