package services

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldText applies NFKC normalisation and Unicode case folding.
func foldText(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// normalizeKey folds s and collapses whitespace runs so that keys differing
// only in case, width or spacing compare equal.
func normalizeKey(s string) string {
	return strings.Join(strings.Fields(foldText(s)), " ")
}
