// Package plaintext provides the fallback Normaliser for plain text
// transcripts.
package plaintext
