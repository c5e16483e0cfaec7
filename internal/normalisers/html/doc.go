// Package html provides a Normaliser for HTML transcripts. It keeps the
// readable text, dropping scripts, styles and markup, and decodes entities.
package html
