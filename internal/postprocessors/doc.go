// Package postprocessors holds text stages that run after a transcript has
// been normalised and before it reaches the extraction prompt.
package postprocessors
