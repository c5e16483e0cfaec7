// Package subtitle provides a Normaliser for WebVTT and SubRip captions,
// the usual output of speech recognition services. Cue numbers, timings
// and styling are dropped and consecutive cues from the same speaker are
// joined into one line.
package subtitle
