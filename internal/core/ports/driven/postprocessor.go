package driven

// TextSplitter cuts a long transcript into overlapping pieces that each fit
// in one extraction prompt.
type TextSplitter interface {
	// Split returns the pieces in order. Short text is returned whole;
	// empty text yields nil.
	Split(text string) []string
}
