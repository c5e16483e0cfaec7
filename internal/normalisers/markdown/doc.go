// Package markdown provides a Normaliser for Markdown transcripts, such as
// the output of note-taking and meeting tools.
package markdown
